package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/voxquest-labs/voxquest-core/internal/bus"
	"github.com/voxquest-labs/voxquest-core/internal/protocol"
)

// BusPlayer publishes prompt play commands to the edge device and waits for
// its playback report.
type BusPlayer struct {
	bus     *bus.Client
	timeout time.Duration
}

func NewBusPlayer(b *bus.Client, timeout time.Duration) *BusPlayer {
	return &BusPlayer{bus: b, timeout: timeout}
}

func (p *BusPlayer) Play(ctx context.Context, attemptID, questionID, uri, text string) error {
	doneSubject := protocol.AttemptSubject(protocol.SubjectPromptDonePrefix, attemptID)
	inbox := make(chan *nats.Msg, 4)
	sub, err := p.bus.Conn().ChanSubscribe(doneSubject, inbox)
	if err != nil {
		return fmt.Errorf("subscribe prompt status: %w", err)
	}
	defer sub.Unsubscribe()

	cmd := protocol.PromptPlay{
		AttemptID:  attemptID,
		QuestionID: questionID,
		URI:        uri,
		Text:       text,
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	playSubject := protocol.AttemptSubject(protocol.SubjectPromptPlayPrefix, attemptID)
	if err := p.bus.Conn().Publish(playSubject, payload); err != nil {
		return fmt.Errorf("publish prompt play: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("prompt %s: no playback report within %s", questionID, p.timeout)
		case msg := <-inbox:
			var status protocol.PromptStatus
			if err := json.Unmarshal(msg.Data, &status); err != nil {
				continue
			}
			if status.QuestionID != questionID {
				continue
			}
			if !status.Completed {
				return fmt.Errorf("prompt %s: playback failed: %s", questionID, status.Error)
			}
			return nil
		}
	}
}

// BusConfirmer asks the participant UI over the bus and waits for the
// confirm/reject decision.
type BusConfirmer struct {
	bus     *bus.Client
	timeout time.Duration
}

func NewBusConfirmer(b *bus.Client, timeout time.Duration) *BusConfirmer {
	return &BusConfirmer{bus: b, timeout: timeout}
}

func (c *BusConfirmer) Confirm(ctx context.Context, req protocol.ConfirmRequest) (bool, error) {
	respSubject := protocol.AttemptSubject(protocol.SubjectConfirmRespPrefix, req.AttemptID)
	inbox := make(chan *nats.Msg, 4)
	sub, err := c.bus.Conn().ChanSubscribe(respSubject, inbox)
	if err != nil {
		return false, fmt.Errorf("subscribe confirm response: %w", err)
	}
	defer sub.Unsubscribe()

	payload, err := json.Marshal(req)
	if err != nil {
		return false, err
	}
	reqSubject := protocol.AttemptSubject(protocol.SubjectConfirmReqPrefix, req.AttemptID)
	if err := c.bus.Conn().Publish(reqSubject, payload); err != nil {
		return false, fmt.Errorf("publish confirm request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, fmt.Errorf("confirm %s: no response within %s", req.QuestionID, c.timeout)
		case msg := <-inbox:
			var resp protocol.ConfirmResponse
			if err := json.Unmarshal(msg.Data, &resp); err != nil {
				continue
			}
			if resp.QuestionID != req.QuestionID {
				continue
			}
			return resp.Accepted, nil
		}
	}
}

// ImplicitConfirmer accepts every parsed value. Used when the session is
// configured to advance automatically on a successful parse.
type ImplicitConfirmer struct{}

func (ImplicitConfirmer) Confirm(context.Context, protocol.ConfirmRequest) (bool, error) {
	return true, nil
}

// BusEvents returns an EventSink publishing to the attempt's event subject.
func BusEvents(b *bus.Client, log *slog.Logger) EventSink {
	return func(evt protocol.SessionEvent) {
		payload, err := json.Marshal(evt)
		if err != nil {
			return
		}
		subject := protocol.AttemptSubject(protocol.SubjectSessionEventPrefix, evt.AttemptID)
		if err := b.Conn().Publish(subject, payload); err != nil {
			log.Warn("publishing session event failed",
				slog.String("subject", subject),
				slog.String("error", err.Error()))
		}
	}
}

// ListenManualStop wires participant stop commands to the recorder. The
// returned function detaches the subscription.
func ListenManualStop(b *bus.Client, attemptID string, recorder Recorder, log *slog.Logger) (func(), error) {
	subject := protocol.AttemptSubject(protocol.SubjectRecordControlPrefix, attemptID)
	sub, err := b.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var cmd protocol.RecordControl
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			log.Warn("bad record control payload", slog.String("error", err.Error()))
			return
		}
		if cmd.Action == "stop" {
			recorder.Stop()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe record control: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
