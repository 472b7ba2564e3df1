// Package desktop hands text and URLs to the surrounding desktop session
// through whatever platform tools are installed.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

var ErrToolNotFound = errors.New("desktop tool not found")

type Command struct {
	Path string
	Args []string
}

type LookPath func(string) (string, error)

func SelectCopyCommand(goos string, lookPath LookPath) (Command, error) {
	switch goos {
	case "darwin":
		path, err := lookPath("pbcopy")
		if err != nil {
			return Command{}, ErrToolNotFound
		}
		return Command{Path: path}, nil
	case "linux":
		if path, err := lookPath("wl-copy"); err == nil {
			return Command{Path: path}, nil
		}
		if path, err := lookPath("xclip"); err == nil {
			return Command{Path: path, Args: []string{"-selection", "clipboard"}}, nil
		}
		return Command{}, ErrToolNotFound
	default:
		return Command{}, ErrToolNotFound
	}
}

// SelectOpenCommand picks the tool that opens target in the default browser.
// target is appended as the last argument.
func SelectOpenCommand(goos string, lookPath LookPath, target string) (Command, error) {
	var name string
	var args []string
	switch goos {
	case "darwin":
		name = "open"
	case "linux", "freebsd", "openbsd":
		name = "xdg-open"
	case "windows":
		name = "rundll32"
		args = []string{"url.dll,FileProtocolHandler"}
	default:
		return Command{}, ErrToolNotFound
	}
	path, err := lookPath(name)
	if err != nil {
		return Command{}, ErrToolNotFound
	}
	return Command{Path: path, Args: append(args, target)}, nil
}

func Copy(ctx context.Context, text string) error {
	cmdDef, err := SelectCopyCommand(runtime.GOOS, exec.LookPath)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, cmdDef.Path, cmdDef.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("clipboard stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start clipboard command: %w", err)
	}

	if _, err := stdin.Write([]byte(text)); err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return fmt.Errorf("write clipboard data: %w", err)
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("clipboard command failed: %w", err)
	}
	return nil
}

// Open launches the browser on url and does not wait for it to exit.
func Open(_ context.Context, url string) error {
	cmdDef, err := SelectOpenCommand(runtime.GOOS, exec.LookPath, url)
	if err != nil {
		return err
	}
	cmd := exec.Command(cmdDef.Path, cmdDef.Args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
