package send

import (
	"context"
	"strings"
	"time"

	"github.com/Napageneral/msgbridge/internal/errs"
	"github.com/Napageneral/msgbridge/internal/ratelimit"
)

// Channel is a delivery mechanism understood by the Messages app.
type Channel string

const (
	// ChannelIMessage is the rich primary channel.
	ChannelIMessage Channel = "iMessage"
	// ChannelSMS is the basic fallback channel.
	ChannelSMS Channel = "SMS"
)

// DefaultProbeTimeout bounds the availability probe. A probe that does
// not answer in time means "unavailable", never an error.
const DefaultProbeTimeout = 5 * time.Second

// Command is a planned send: the chosen channel and the generated
// automation script.
type Command struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Body      string  `json:"body"`
	Script    string  `json:"-"`
}

// Planner decides the delivery channel for a target and executes send
// commands. Sends are blocking and never retried; a failure is
// reported with the attempted channel, not silently re-sent.
type Planner struct {
	runner       Runner
	probeTimeout time.Duration
	pacer        *ratelimit.Pacer
}

// NewPlanner creates a Planner. A nil runner uses osascript; a zero
// probeTimeout uses DefaultProbeTimeout; a nil pacer is unthrottled.
func NewPlanner(runner Runner, probeTimeout time.Duration, pacer *ratelimit.Pacer) *Planner {
	if runner == nil {
		runner = Osascript{}
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Planner{runner: runner, probeTimeout: probeTimeout, pacer: pacer}
}

// Available probes whether the iMessage service can reach recipient,
// bounded by the probe timeout. Timeouts and probe failures both read
// as unavailable.
func (p *Planner) Available(ctx context.Context, recipient string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	out, err := p.runner.Run(probeCtx, buildProbeScript(recipient))
	if err != nil {
		return false
	}
	return out == "available"
}

// Plan resolves the delivery channel for recipient and generates the
// send command. iMessage when the probe says reachable, SMS otherwise.
func (p *Planner) Plan(ctx context.Context, recipient, body string) (Command, error) {
	if strings.TrimSpace(recipient) == "" {
		return Command{}, errs.New(errs.Validation, "send recipient must not be empty")
	}
	if body == "" {
		return Command{}, errs.New(errs.Validation, "message body must not be empty")
	}

	channel := ChannelSMS
	if p.Available(ctx, recipient) {
		channel = ChannelIMessage
	}

	return Command{
		Channel:   channel,
		Recipient: recipient,
		Body:      body,
		Script:    buildSendScript(channel, recipient, body),
	}, nil
}

// Execute runs a planned command. The pacer smooths bursts; the
// automation layer's failure is surfaced as a delivery error with the
// attempted channel noted.
func (p *Planner) Execute(ctx context.Context, cmd Command) error {
	if err := p.pacer.Wait(ctx); err != nil {
		return errs.Wrap(errs.Delivery, err, "send to %s canceled before dispatch", cmd.Recipient)
	}

	out, err := p.runner.Run(ctx, cmd.Script)
	if err != nil {
		return errs.Wrap(errs.Delivery, err, "send via %s to %s failed", cmd.Channel, cmd.Recipient)
	}
	if strings.HasPrefix(out, "error:") {
		return errs.New(errs.Delivery, "send via %s to %s failed: %s", cmd.Channel, cmd.Recipient, strings.TrimPrefix(out, "error:"))
	}
	if out != "success" {
		return errs.New(errs.Delivery, "send via %s to %s returned unexpected result %q", cmd.Channel, cmd.Recipient, out)
	}
	return nil
}

// Send plans and executes in one call.
func (p *Planner) Send(ctx context.Context, recipient, body string) (Command, error) {
	cmd, err := p.Plan(ctx, recipient, body)
	if err != nil {
		return Command{}, err
	}
	if err := p.Execute(ctx, cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}
