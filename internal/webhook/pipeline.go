// ABOUTME: Orchestrates the inbound message pipeline from extraction to delivery
// ABOUTME: Sequences admin dispatch, rate limiting, history, AI reply, persistence and chunked sends

package webhook

import (
	"context"
	"log/slog"
	"time"

	"wagateway/internal/ratelimit"
	"wagateway/internal/splitter"
	"wagateway/internal/store"
)

// Fixed user-facing replies. Failures always degrade to friendly text,
// never to silence or a raw error.
const (
	rateLimitReply = "You're sending messages a bit too quickly. Please wait a moment and try again."
	aiFailureReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."
)

// Responder produces an assistant reply for a user message given the
// bounded conversation history. Implementations are expected to be slow
// blocking I/O; the pipeline applies its own timeout.
type Responder interface {
	Reply(ctx context.Context, history []*store.Message, userText string) (string, error)
}

// Transport delivers one outbound text chunk to the messaging platform.
type Transport interface {
	SendText(ctx context.Context, phoneNumberID, recipientID, text string) error
}

// AdminDispatcher recognizes privileged operator commands in inbound text.
type AdminDispatcher interface {
	Dispatch(ctx context.Context, userID, text string) (reply string, handled bool)
}

// Outcome is the terminal state of one pipeline run.
type Outcome int

const (
	OutcomeReplied Outcome = iota
	OutcomeAdminHandled
	OutcomeRateLimited
	OutcomeDeliveryFailed
)

// Config carries the pipeline's tunables.
type Config struct {
	MaxMessageLength int           // transport chunk size cap
	AITimeout        time.Duration // bound on the Responder call
	SendTimeout      time.Duration // bound on each Transport call
	ChunkDelay       time.Duration // pause between chunks to preserve ordering
}

// Pipeline runs each inbound message through the processing stages in a
// fixed order with no branching back. It holds no locks of its own; the
// store serializes internally, and the slow collaborator calls run outside
// any storage critical section.
type Pipeline struct {
	store     store.Store
	limiter   *ratelimit.Limiter
	admin     AdminDispatcher
	responder Responder
	transport Transport
	cfg       Config
	logger    *slog.Logger
}

// New creates a Pipeline. admin may be nil when no admin users are configured.
func New(st store.Store, limiter *ratelimit.Limiter, admin AdminDispatcher, responder Responder, transport Transport, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     st,
		limiter:   limiter,
		admin:     admin,
		responder: responder,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("component", "pipeline"),
	}
}

// Handle processes one extracted inbound message.
//
// The only error it returns is a storage failure, which the HTTP layer
// surfaces as a server error so the platform retries the event. Every other
// failure mode resolves locally: AI errors fall back to a fixed reply,
// delivery errors are logged and reported through the outcome.
func (p *Pipeline) Handle(ctx context.Context, msg InboundMessage) (Outcome, error) {
	// Admin commands short-circuit the conversational path entirely.
	// Operational exchanges are not part of the AI history.
	if p.admin != nil {
		if reply, handled := p.admin.Dispatch(ctx, msg.From, msg.Text); handled {
			if err := p.deliver(ctx, msg, reply); err != nil {
				return OutcomeDeliveryFailed, nil
			}
			return OutcomeAdminHandled, nil
		}
	}

	if !p.limiter.Allow(msg.From, time.Now()) {
		p.logger.Info("rate limit exceeded", "user_id", msg.From)
		if err := p.deliver(ctx, msg, rateLimitReply); err != nil {
			return OutcomeDeliveryFailed, nil
		}
		return OutcomeRateLimited, nil
	}

	conv, err := p.store.GetConversation(ctx, msg.From)
	if err != nil {
		return OutcomeReplied, err
	}

	reply, aiErr := p.respond(ctx, conv.Messages, msg.Text)
	if aiErr != nil {
		// The user still gets a response, but a turn we failed to
		// generate is never persisted as a genuine exchange.
		p.logger.Error("AI responder failed", "error", aiErr, "user_id", msg.From)
		if err := p.deliver(ctx, msg, aiFailureReply); err != nil {
			return OutcomeDeliveryFailed, nil
		}
		return OutcomeReplied, nil
	}

	if err := p.store.AddMessage(ctx, msg.From, store.RoleUser, msg.Text, msg.MessageID); err != nil {
		return OutcomeReplied, err
	}
	if err := p.store.AddMessage(ctx, msg.From, store.RoleAssistant, reply, ""); err != nil {
		return OutcomeReplied, err
	}

	if err := p.deliver(ctx, msg, reply); err != nil {
		return OutcomeDeliveryFailed, nil
	}
	return OutcomeReplied, nil
}

// respond calls the AI collaborator under the configured timeout.
func (p *Pipeline) respond(ctx context.Context, history []*store.Message, text string) (string, error) {
	aiCtx, cancel := context.WithTimeout(ctx, p.cfg.AITimeout)
	defer cancel()
	return p.responder.Reply(aiCtx, history, text)
}

// deliver splits reply into transport-safe chunks and sends them in order,
// pausing between chunks so the receiving client sees them in sequence.
// A failed chunk aborts the rest; the error is logged here and the caller
// reports a failed outcome without surfacing it to the webhook caller.
func (p *Pipeline) deliver(ctx context.Context, msg InboundMessage, reply string) error {
	chunks := splitter.Split(reply, p.cfg.MaxMessageLength)
	for i, chunk := range chunks {
		if i > 0 && p.cfg.ChunkDelay > 0 {
			select {
			case <-time.After(p.cfg.ChunkDelay):
			case <-ctx.Done():
				p.logger.Warn("delivery cancelled between chunks", "user_id", msg.From, "sent", i, "total", len(chunks))
				return ctx.Err()
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
		err := p.transport.SendText(sendCtx, msg.PhoneNumberID, msg.From, chunk)
		cancel()
		if err != nil {
			p.logger.Error("delivery failed", "error", err, "user_id", msg.From, "chunk", i+1, "total", len(chunks))
			return err
		}
	}

	p.logger.Debug("reply delivered", "user_id", msg.From, "chunks", len(chunks))
	return nil
}
