package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"taskpilot/pkg/config"
	"taskpilot/pkg/logx"
)

// EnvPassword holds the secrets password for non-interactive use.
const EnvPassword = "TASKPILOT_PASSWORD"

// app is the loaded workspace a command works on.
type app struct {
	workspace string
	cfg       config.Config
	logFile   bool
}

// setup resolves the workspace, loads the config and initializes logging.
func setup(flags *globalFlags) (*app, error) {
	workspace, err := filepath.Abs(flags.workspace)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", workspace)
	}

	if err := config.LoadConfig(workspace, flags.configPath); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}

	logx.SetDebugConfig(cfg.Logging.Debug || flags.debug)
	if len(cfg.Logging.Domains) > 0 {
		logx.SetDebugDomains(cfg.Logging.Domains)
	}

	a := &app{workspace: workspace, cfg: cfg}
	if cfg.Logging.File {
		if err := logx.InitializeLogFile(a.path(config.DefaultLogsDir), cfg.Logging.Tee); err != nil {
			return nil, err
		}
		a.logFile = true
	}
	return a, nil
}

// close releases what setup acquired.
func (a *app) close() {
	if !a.logFile {
		return
	}
	if err := logx.CloseLogFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// path resolves p against the workspace unless it is absolute.
func (a *app) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.workspace, p)
}

// unlockSecrets decrypts the workspace secrets file, if any, into memory. The password comes
// from TASKPILOT_PASSWORD or an interactive prompt. Without either, secrets stay locked and
// credentials resolve from the environment only.
func (a *app) unlockSecrets(in *os.File, out io.Writer) error {
	if !config.SecretsFileExists(a.workspace) {
		return nil
	}
	password := os.Getenv(EnvPassword)
	if password == "" {
		if !term.IsTerminal(int(in.Fd())) {
			logx.Warnf("Secrets file present but %s is not set; using environment credentials", EnvPassword)
			return nil
		}
		var err error
		password, err = readSecret(in, out, "Secrets password: ")
		if err != nil {
			return err
		}
	}
	secrets, err := config.DecryptSecretsFile(a.workspace, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// readSecret reads one line without echo. When in is not a terminal the line is read as is.
func readSecret(in *os.File, out io.Writer, prompt string) (string, error) {
	var data []byte
	var err error
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(out, prompt)
		data, err = term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
	} else {
		data, err = readLine(in)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := string(bytes.TrimSpace(data))
	for i := range data {
		data[i] = 0
	}
	if value == "" {
		return "", errors.New("empty input")
	}
	return value, nil
}

// promptNewPassword asks twice for a new secrets password.
func promptNewPassword(in *os.File, out io.Writer) (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		first, err := readSecret(in, out, "New secrets password: ")
		if err != nil {
			return "", err
		}
		second, err := readSecret(in, out, "Confirm password: ")
		if err != nil {
			return "", err
		}
		if first == second {
			return first, nil
		}
		fmt.Fprintln(out, "Passwords do not match.")
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}

// readLine reads up to a newline without buffering past it, so prompts can share the reader.
func readLine(in io.Reader) ([]byte, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return line, nil
			}
			line = append(line, buf[0])
		}
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
