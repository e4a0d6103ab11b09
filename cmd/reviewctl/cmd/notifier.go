package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/collinco2/sentinelforge-sub000/internal/notify"
)

var (
	successStyle = color.New(color.FgGreen, color.Bold)
	errorStyle   = color.New(color.FgRed, color.Bold)
	deniedStyle  = color.New(color.FgMagenta, color.Bold)
	warnStyle    = color.New(color.FgYellow, color.Bold)
	infoStyle    = color.New(color.FgCyan)
	dimStyle     = color.New(color.Faint)
)

// ColorNotifier печатает уведомления в терминал с цветом по виду.
type ColorNotifier struct {
	out io.Writer
}

// NewColorNotifier создаёт ColorNotifier, пишущий в out.
func NewColorNotifier(out io.Writer) *ColorNotifier {
	return &ColorNotifier{out: out}
}

// Notify реализует notify.Notifier.
func (c *ColorNotifier) Notify(_ context.Context, n notify.Notification) {
	fmt.Fprintf(c.out, "%s %s\n", styleFor(n.Kind).Sprintf("[%s]", n.Title), n.Message)
}

func styleFor(kind notify.Kind) *color.Color {
	switch kind {
	case notify.KindSuccess:
		return successStyle
	case notify.KindError:
		return errorStyle
	case notify.KindPermissionDenied:
		return deniedStyle
	case notify.KindWarning:
		return warnStyle
	default:
		return infoStyle
	}
}
