package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"paperscope/settings"
)

// controller is the command side of the pipeline.
type controller interface {
	StartPreview()
	StartTracking()
	StopTracking()
	StartCalibrate()
	StopCalibrate()
}

var errQuit = errors.New("quit")

const consoleHelp = `commands:
  preview | track | stop | calibrate | stop-calibrate
  render <0 camera|1 paperscope|2 none>
  view <0 plane2d|1 processing|2 threshold|3 streets|4 boxes|5 contours>
  dark <n> | light <n> | red <n>
  project <id> | dataset | help | quit`

// settingCommands map console words to setting keys with integer values.
var settingCommands = map[string]string{
	"render": settings.KeyRenderMode,
	"view":   settings.KeyViewMode,
	"dark":   settings.KeyThresholdDark,
	"light":  settings.KeyThresholdLight,
	"red":    settings.KeyThresholdRed,
}

// runCommand applies one console line. errQuit ends the session.
func runCommand(line string, ctl controller, store settings.Store, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	word := strings.ToLower(fields[0])
	switch word {
	case "preview":
		ctl.StartPreview()
	case "track":
		ctl.StartTracking()
	case "stop":
		ctl.StopTracking()
	case "calibrate":
		ctl.StartCalibrate()
	case "stop-calibrate":
		ctl.StopCalibrate()
	case "dataset":
		return store.Set(settings.KeyCaptureDataset, true)
	case "project":
		if len(fields) != 2 {
			return errors.New("usage: project <id>")
		}
		return store.Set(settings.KeyProjectID, fields[1])
	case "help":
		fmt.Fprintln(out, consoleHelp)
	case "quit", "exit":
		return errQuit
	default:
		key, ok := settingCommands[word]
		if !ok {
			return errors.Errorf("unknown command %q", word)
		}
		if len(fields) != 2 {
			return errors.Errorf("usage: %s <n>", word)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return errors.Errorf("%s needs a non-negative integer, got %q", word, fields[1])
		}
		return store.Set(key, n)
	}
	return nil
}

// console reads commands from r until ctx ends, r closes or quit is typed.
func console(ctx context.Context, r io.Reader, out io.Writer, ctl controller, store settings.Store) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := runCommand(line, ctl, store, out)
			if errors.Is(err, errQuit) {
				return errQuit
			}
			if err != nil {
				fmt.Fprintln(out, err)
			}
		}
	}
}
