package command

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
)

const helpText = `Commands:
  add <path>                       import an image
  process <imageId> <paramsPath>   transform an image (JSON or YAML parameters)
  delete <imageId>                 delete an image once its tasks have finished
  list                             list registered images
  describe <imageId>               show an image and its ancestors
  help                             show this text
  exit                             wait for running tasks and quit`

// Execute parses and runs one command line. Every failure is published as an
// "error: ..." line and also returned; none of them are fatal. The returned
// bool is true for exit, after which the caller should stop reading input
// and call Shutdown.
func (m *Manager) Execute(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	if name == "" {
		return false, nil
	}

	m.logger.Debug("command", zap.String("name", name), zap.String("args", rest))

	exit := false
	var err error
	switch name {
	case "add":
		if rest == "" {
			err = usage("add <path>")
			break
		}
		_, err = m.Add(rest)

	case "process":
		idArg, path, _ := strings.Cut(rest, " ")
		path = strings.TrimSpace(path)
		if idArg == "" || path == "" {
			err = usage("process <imageId> <paramsPath>")
			break
		}
		var id int
		if id, err = parseID(idArg); err == nil {
			_, err = m.Process(ctx, id, path)
		}

	case "delete":
		var id int
		if id, err = parseID(rest); err == nil {
			err = m.Delete(ctx, id)
		}

	case "list":
		m.List()

	case "describe":
		var id int
		if id, err = parseID(rest); err == nil {
			_, err = m.Describe(id)
		}

	case "help":
		m.publish(helpText)

	case "exit":
		exit = true

	default:
		err = apperrors.Newf(apperrors.CategoryInvalidArgument, "command.execute",
			"unknown command %q (try help)", name)
		name = "unknown"
	}

	if m.metrics != nil {
		m.metrics.ObserveCommand(name, err)
	}
	if err != nil {
		m.logger.Debug("command failed", zap.String("name", name), zap.Error(err))
		m.publishf("error: %v", err)
	}
	return exit, err
}

func parseID(arg string) (int, error) {
	if arg == "" {
		return 0, apperrors.Newf(apperrors.CategoryInvalidArgument, "command.parse", "missing image id")
	}
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, apperrors.Newf(apperrors.CategoryInvalidArgument, "command.parse", "invalid image id %q", arg)
	}
	return id, nil
}

func usage(form string) error {
	return apperrors.Newf(apperrors.CategoryInvalidArgument, "command.parse", "usage: %s", form)
}
