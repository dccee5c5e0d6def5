package main

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
)

// deviceHolders lists the processes (name[pid]) that have path open.
// Processes of other users are only visible with enough privileges.
func deviceHolders(path string) []string {
	path, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil
	}
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	var holders []string
	for _, p := range procs {
		files, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.Path != path {
				continue
			}
			name, err := p.Name()
			if err != nil {
				name = `?`
			}
			holders = append(holders, fmt.Sprintf(`%s[%d]`, name, p.Pid))
			break
		}
	}
	return holders
}
