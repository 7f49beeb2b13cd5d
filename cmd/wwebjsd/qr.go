package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mdp/qrterminal/v3"

	"github.com/rgranatodutra/wwebjs-api/emitter"
	"github.com/rgranatodutra/wwebjs-api/message"
)

// qrRenderer prints QR pairing challenges to the terminal so an operator can
// scan them. All other events pass through untouched.
type qrRenderer struct {
	logger *slog.Logger
}

func newQRRenderer(logger *slog.Logger) *qrRenderer {
	return &qrRenderer{logger: logger.With("component", "qr-renderer")}
}

var _ emitter.Emitter = (*qrRenderer)(nil)

// Emit implements emitter.Emitter.
func (q *qrRenderer) Emit(_ context.Context, event message.Event) {
	qr, ok := event.(message.QRReceivedEvent)
	if !ok {
		return
	}

	q.logger.Info("scan the QR code to pair the session")
	qrterminal.GenerateWithConfig(qr.QR, qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    os.Stdout,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
}
