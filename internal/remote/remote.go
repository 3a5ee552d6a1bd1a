// Package remote resolves server configuration into ssh/scp invocation
// arguments and composes remote command lines. Connection multiplexing
// options are always injected so a session's repeated calls against the same
// host reuse one underlying connection.
package remote

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rdevtools/rdev/internal/config"
)

// controlOptions enable connection multiplexing and keepalives. Sessions
// issue dozens of remote calls per minute; ControlMaster keeps them on one
// transport connection.
var controlOptions = []string{
	"-o", "ControlMaster=auto",
	"-o", "ControlPersist=60s",
	"-o", "ControlPath=~/.ssh/rdev-%C",
	"-o", "ServerAliveInterval=10",
	"-o", "ServerAliveCountMax=3",
	"-o", "ConnectTimeout=10",
}

// Transport holds the resolved connection parameters for one server.
type Transport struct {
	dest         string
	port         int
	identityFile string
	explicit     bool
}

// Resolve looks up the named server in the configured map. A configured
// entry yields explicit connection arguments; an unknown name is passed
// through as an ssh alias so the local ssh_config decides.
func Resolve(server string, servers map[string]config.ServerConfig) *Transport {
	srv, ok := servers[server]
	if !ok {
		return &Transport{dest: server}
	}

	dest := srv.Host
	if srv.User != "" {
		dest = srv.User + "@" + srv.Host
	}
	return &Transport{
		dest:         dest,
		port:         srv.Port,
		identityFile: srv.IdentityFile,
		explicit:     true,
	}
}

// Dest returns the ssh destination, either user@host or the raw alias.
func (t *Transport) Dest() string {
	return t.dest
}

// Explicit reports whether the transport came from a configured server entry.
func (t *Transport) Explicit() bool {
	return t.explicit
}

// options returns the ssh option arguments, portFlag selecting between the
// ssh (-p) and scp (-P) spellings.
func (t *Transport) options(portFlag string) []string {
	args := make([]string, 0, len(controlOptions)+6)
	args = append(args, controlOptions...)
	if t.explicit {
		args = append(args, "-o", "BatchMode=yes")
		if t.port != 0 {
			args = append(args, portFlag, strconv.Itoa(t.port))
		}
		if t.identityFile != "" {
			args = append(args, "-i", t.identityFile)
		}
	}
	return args
}

// SSHArgs composes the full argument list for running command on the remote
// host via the ssh binary.
func (t *Transport) SSHArgs(command string) []string {
	args := t.options("-p")
	args = append(args, t.dest, command)
	return args
}

// SCPArgs composes the argument list for uploading sources into remoteDir
// via the scp binary. Directories need -r; scp handles files with -r too.
func (t *Transport) SCPArgs(sources []string, remoteDir string) []string {
	args := t.options("-P")
	args = append(args, "-r")
	args = append(args, sources...)
	args = append(args, fmt.Sprintf("%s:%s", t.dest, remoteDir))
	return args
}

// RsyncSSHCommand returns the ssh command string handed to rsync's -e flag.
func (t *Transport) RsyncSSHCommand() string {
	parts := append([]string{"ssh"}, t.options("-p")...)
	return strings.Join(parts, " ")
}

// Quote wraps s in single quotes for safe interpolation into a remote shell
// command line. Embedded single quotes are escaped by closing the quoted
// span, emitting an escaped quote, and reopening it. Every value placed into
// a remote command string must pass through here.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CD composes a cd prefix for running a command inside dir. An empty dir
// yields the command unchanged.
func CD(dir, command string) string {
	if dir == "" {
		return command
	}
	return fmt.Sprintf("cd %s && %s", Quote(dir), command)
}
