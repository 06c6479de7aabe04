package proctune

import "os/exec"

func shellRun(cmd string) error {
	return exec.Command("sh", "-c", cmd).Run()
}
