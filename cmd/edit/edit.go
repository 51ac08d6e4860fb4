// Package edit opens the eumbeacon configuration in the system editor.
package edit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `shared_secret = "CHANGE_ME"

[log]
  level  = "info"
  format = "console"

[agent]
  network_range   = "10.51.240.0/23"
  port            = 5678
  multicast_group = ""
  collector       = ""
  interval        = "30s"

[server]
  udp_port        = 5678
  http_addr       = ":8080"
  db_path         = "/var/lib/eumbeacon/beacons.db"
  rpc_socket      = "/run/eumbeacon/server.sock"
  session_timeout = "30m"
  max_clock_skew  = "60s"
  rate_limit      = 60

[redis]
  url   = ""
  queue = "eumbeacon_beacons"

[sessions]
  rpc_socket = "/run/eumbeacon/server.sock"
`

// EnsureConfig writes the default template to path unless a file already exists.
func EnsureConfig(path string) (created bool, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
		return false, fmt.Errorf("writing default config: %w", err)
	}
	return true, nil
}

// Run opens the configuration file in the system editor, creating it with
// default values first if needed.
func Run(path string) error {
	created, err := EnsureConfig(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created new config file at %s\n", path)
	}

	editor := findEditor()
	if editor == "" {
		return fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func findEditor() string {
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e
		}
	}
	return ""
}
