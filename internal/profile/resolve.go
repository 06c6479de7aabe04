package profile

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

// readByPriority tries every candidate path for name, in priority order,
// returning the first valid profile found.
func (r *Reader) readByPriority(ctx context.Context, name, addSettings string, userID *int, userName string, log zerolog.Logger) *model.OptimizationProfile {
	for _, path := range PossiblePathsByPriority(name, userID, userName) {
		if path == "" {
			continue
		}
		p, err := r.ReadValid(ctx, path, addSettings, false)
		if err != nil {
			if os.IsNotExist(err) {
				log.Debug().Str("path", path).Msg("profile file not found")
				continue
			}
			log.Warn().Str("path", path).Err(err).Msg("failed reading profile")
			continue
		}
		if p != nil {
			return p
		}
	}
	return nil
}

// LoadValid resolves the profile a request should use: the one it names,
// if valid, otherwise the daemon's default profile.
func (r *Reader) LoadValid(ctx context.Context, req *model.OptimizationRequest, log zerolog.Logger) *model.OptimizationProfile {
	var p *model.OptimizationProfile

	if req.Profile != "" {
		p = r.readByPriority(ctx, req.Profile, req.ProfileConfig, req.UserID, req.UserName, log)
		if p != nil {
			log.Info().Str("profile", p.Name).Str("path", p.Path).Interface("pid", req.PID).Msg("valid profile found")
		}
	}

	if p == nil {
		p = r.readByPriority(ctx, DefaultProfileName(), req.ProfileConfig, req.UserID, req.UserName, log)
		if p != nil {
			preMsg := "Request has no profile defined. "
			if req.Profile != "" {
				preMsg = "No existing/valid profile '" + req.Profile + "'. "
			}
			log.Warn().Str("path", p.Path).Msg(preMsg + "using default profile instead")
		}
	}

	return p
}

// MapValidConfig parses an inline daemon-side configuration string
// (request.config) instead of reading a profile file from disk.
func (r *Reader) MapValidConfig(config string, log zerolog.Logger) *model.OptimizationProfile {
	if config == "" {
		return nil
	}
	p := r.Map(config, "", "")
	if p != nil && p.IsValid() {
		return p
	}
	log.Warn().Str("config", strings.ReplaceAll(config, "\n", " ")).Msg("no optimization settings defined in configuration")
	return nil
}
