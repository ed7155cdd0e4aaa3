// Package relay implements the turn dispatcher: the state machine that turns
// one inbound message into one outbound reply.
//
// Each turn walks an ordered list of named handlers (onboarding, quota gate,
// button reply, content turn); the first handler that claims the turn is
// terminal. Upstream failures degrade to a single clarification reply and
// never escape the dispatcher.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/studymate-ai/studyrelay/internal/interpret"
	"github.com/studymate-ai/studyrelay/internal/models"
	"github.com/studymate-ai/studyrelay/internal/prompt"
	"github.com/studymate-ai/studyrelay/internal/quota"
	"github.com/studymate-ai/studyrelay/internal/session"
	"github.com/studymate-ai/studyrelay/internal/store"
)

// Fixed reply texts for turns that do not reach the model.
const (
	msgAskName = "Hi! I'm StudyMate, your study assistant 📚 Before we start, what's your full name? (first and last)"

	msgQuotaReached = "You've reached your daily question limit for now ⏳ Your quota resets within 24 hours. Come back then!"

	msgUnderstood = "Great! 🎉 Send me your next question whenever you're ready."

	msgRestate = "I don't have your last question on hand. Please type it again and I'll explain further."

	msgUnknownButton = "I didn't catch that. Please type your question and I'll help."

	msgGatewayError = "I ran into a problem while answering that. Please try again."

	msgExtractError = "I couldn't read that attachment. Could you type your question instead?"
)

// ModelGateway sends a built prompt to the generative model.
type ModelGateway interface {
	Generate(ctx context.Context, promptText string) (string, error)
}

// Sender delivers outbound replies.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendQuickReplyButtons(ctx context.Context, to string, body string, buttons []models.ButtonOption) error
}

// MediaExtractor converts a media reference into text.
type MediaExtractor interface {
	Extract(ctx context.Context, kind models.MediaKind, mediaID string) (string, error)
}

// Opts holds optional dispatcher configuration.
type Opts struct {
	Extractor MediaExtractor
	Clock     func() time.Time
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithExtractor wires a media-to-text extractor. Without one, media messages
// get a clarification reply.
func WithExtractor(e MediaExtractor) Option {
	return func(o *Opts) { o.Extractor = e }
}

// WithClock overrides the time source, used in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// turn carries the per-message state threaded through the handler chain.
type turn struct {
	msg  models.IncomingMessage
	user *models.UserRecord
}

// turnHandler is one named stage of the dispatch order. run reports whether
// the turn was claimed and is therefore terminal.
type turnHandler struct {
	name string
	run  func(ctx context.Context, t *turn) bool
}

// Dispatcher sequences user lookup, quota, session context, prompting and
// reply delivery for each inbound message.
type Dispatcher struct {
	store     store.Store
	sessions  *session.Cache
	gateway   ModelGateway
	sender    Sender
	extractor MediaExtractor
	clock     func() time.Time
	handlers  []turnHandler
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(st store.Store, sessions *session.Cache, gateway ModelGateway, sender Sender, opts ...Option) *Dispatcher {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	d := &Dispatcher{
		store:     st,
		sessions:  sessions,
		gateway:   gateway,
		sender:    sender,
		extractor: cfg.Extractor,
		clock:     cfg.Clock,
	}
	// First claiming handler wins; the order is the contract.
	d.handlers = []turnHandler{
		{name: "onboarding", run: d.runOnboarding},
		{name: "quota_gate", run: d.runQuotaGate},
		{name: "button_reply", run: d.runButtonReply},
		{name: "content_turn", run: d.runContentTurn},
	}
	return d
}

// Run consumes inbound messages until the context is cancelled or the channel
// closes. Distinct senders are processed concurrently.
func (d *Dispatcher) Run(ctx context.Context, messages <-chan models.IncomingMessage) {
	slog.Info("Dispatcher.Run: started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher.Run: stopping due to context cancellation")
			return
		case msg, ok := <-messages:
			if !ok {
				slog.Info("Dispatcher.Run: message channel closed")
				return
			}
			go d.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage processes a single turn. It never returns an error; every
// failure is degraded to a reply (or a silent drop for malformed input).
func (d *Dispatcher) HandleMessage(ctx context.Context, msg models.IncomingMessage) {
	if !validInbound(msg) {
		slog.Debug("Dispatcher.HandleMessage: dropping malformed inbound event", "from_set", msg.From != "", "kind", msg.Kind)
		return
	}

	user, err := d.store.GetOrCreateUser(ctx, msg.From)
	if err != nil {
		slog.Error("Dispatcher.HandleMessage: user lookup failed", "error", err, "from", msg.From)
		d.sendText(ctx, msg.From, msgGatewayError)
		return
	}

	t := &turn{msg: msg, user: user}
	for _, h := range d.handlers {
		if h.run(ctx, t) {
			slog.Debug("Dispatcher.HandleMessage: turn handled", "handler", h.name, "from", msg.From)
			return
		}
	}
	// content_turn always claims; reaching here means a handler bug
	slog.Error("Dispatcher.HandleMessage: no handler claimed turn", "from", msg.From)
}

// validInbound filters input-shape errors: events the relay cannot answer at all.
func validInbound(msg models.IncomingMessage) bool {
	if msg.From == "" {
		return false
	}
	switch msg.Kind {
	case models.MessageText:
		return strings.TrimSpace(msg.Body) != ""
	case models.MessageInteractive:
		return msg.ButtonID != ""
	case models.MessageMedia:
		return msg.MediaID != ""
	default:
		return false
	}
}

// runOnboarding claims every turn until the user has a name. A body with two
// or more whitespace-separated tokens is taken as the full name.
func (d *Dispatcher) runOnboarding(ctx context.Context, t *turn) bool {
	if t.user.Onboarded() {
		return false
	}

	tokens := strings.Fields(t.msg.Body)
	if t.msg.Kind != models.MessageText || len(tokens) < 2 {
		d.sendText(ctx, t.msg.From, msgAskName)
		return true
	}

	name := strings.Join(tokens, " ")
	if err := d.store.UpdateUser(ctx, t.msg.From, models.UserUpdate{Name: &name}); err != nil {
		slog.Error("Dispatcher.runOnboarding: failed to persist name", "error", err, "from", t.msg.From)
		d.sendText(ctx, t.msg.From, msgGatewayError)
		return true
	}
	t.user.Name = name

	welcome := fmt.Sprintf("Nice to meet you, %s! 📚 Send me any study question and I'll explain it. You can also send a photo, a voice note or a PDF.", prompt.FirstName(name))
	d.sendText(ctx, t.msg.From, welcome)
	slog.Info("Dispatcher.runOnboarding: user onboarded", "from", t.msg.From)
	return true
}

// runQuotaGate applies the quota decision and persists any mutation. It only
// claims the turn on rejection.
func (d *Dispatcher) runQuotaGate(ctx context.Context, t *turn) bool {
	outcome := quota.Evaluate(t.user, d.clock())

	if outcome.Mutated {
		update := models.UserUpdate{
			QuotaRemaining: &outcome.Remaining,
			QuotaResetAt:   &outcome.ResetAt,
		}
		if err := d.store.UpdateUser(ctx, t.msg.From, update); err != nil {
			// Turn proceeds anyway; quota counters are low stakes
			slog.Error("Dispatcher.runQuotaGate: failed to persist quota", "error", err, "from", t.msg.From)
		}
		t.user.QuotaRemaining = outcome.Remaining
		t.user.QuotaResetAt = outcome.ResetAt
	}

	if outcome.Decision == quota.DecisionReject {
		slog.Info("Dispatcher.runQuotaGate: quota exhausted", "from", t.msg.From, "resetAt", t.user.QuotaResetAt)
		d.sendText(ctx, t.msg.From, msgQuotaReached)
		return true
	}
	return false
}

// runButtonReply claims interactive turns.
func (d *Dispatcher) runButtonReply(ctx context.Context, t *turn) bool {
	if t.msg.Kind != models.MessageInteractive {
		return false
	}

	switch t.msg.ButtonID {
	case models.ButtonUnderstood:
		d.sendText(ctx, t.msg.From, msgUnderstood)
	case models.ButtonExplainMore:
		d.explainMore(ctx, t)
	default:
		slog.Debug("Dispatcher.runButtonReply: unknown button", "buttonID", t.msg.ButtonID, "from", t.msg.From)
		d.sendText(ctx, t.msg.From, msgUnknownButton)
	}
	return true
}

// explainMore re-invokes the model with the stored last prompt and an
// elaboration suffix. Without a stored prompt it asks the user to restate.
func (d *Dispatcher) explainMore(ctx context.Context, t *turn) {
	if t.user.LastPrompt == "" {
		d.sendText(ctx, t.msg.From, msgRestate)
		return
	}

	raw, err := d.gateway.Generate(ctx, t.user.LastPrompt+prompt.ExplainMoreSuffix)
	if err != nil {
		slog.Error("Dispatcher.explainMore: model call failed", "error", err, "from", t.msg.From)
		d.sendText(ctx, t.msg.From, msgGatewayError)
		return
	}

	reply := interpret.Interpret(raw)
	content := interpret.NormalizeNewlines(reply.Content)
	d.sendButtons(ctx, t.msg.From, content, models.FollowUpButtons())
}

// runContentTurn is the default handler: resolve the input text, build a
// contextual prompt, call the model and deliver the interpreted reply.
func (d *Dispatcher) runContentTurn(ctx context.Context, t *turn) bool {
	input, ok := d.resolveInput(ctx, t)
	if !ok {
		return true
	}

	history := d.sessions.History(t.msg.From)
	built := prompt.Build(t.user.Name, history, input)
	d.sessions.Append(t.msg.From, input)

	raw, err := d.gateway.Generate(ctx, built)
	if err != nil {
		slog.Error("Dispatcher.runContentTurn: model call failed", "error", err, "from", t.msg.From)
		d.sendText(ctx, t.msg.From, msgGatewayError)
		return true
	}

	reply := interpret.Interpret(raw)
	content := interpret.NormalizeNewlines(reply.Content)

	// Buttons are attached only to answers; clarifications stay plain.
	if reply.Kind == interpret.KindAnswer {
		d.sendButtons(ctx, t.msg.From, content, models.FollowUpButtons())
	} else {
		d.sendText(ctx, t.msg.From, content)
	}

	if err := d.store.UpdateUser(ctx, t.msg.From, models.UserUpdate{LastPrompt: &built}); err != nil {
		// Reply already went out; a stale last_prompt only degrades explain_more
		slog.Error("Dispatcher.runContentTurn: failed to persist last prompt", "error", err, "from", t.msg.From)
	}
	return true
}

// resolveInput returns the text for this turn: the body for text messages,
// the extraction output for media. ok is false when the turn was already
// answered with a clarification.
func (d *Dispatcher) resolveInput(ctx context.Context, t *turn) (string, bool) {
	if t.msg.Kind != models.MessageMedia {
		return t.msg.Body, true
	}

	if d.extractor == nil {
		slog.Warn("Dispatcher.resolveInput: media message without extractor", "from", t.msg.From, "mediaKind", t.msg.MediaKind)
		d.sendText(ctx, t.msg.From, msgExtractError)
		return "", false
	}

	text, err := d.extractor.Extract(ctx, t.msg.MediaKind, t.msg.MediaID)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Error("Dispatcher.resolveInput: media extraction failed", "error", err, "from", t.msg.From, "mediaKind", t.msg.MediaKind)
		d.sendText(ctx, t.msg.From, msgExtractError)
		return "", false
	}

	// A caption travels with the extracted text so the model sees both.
	if caption := strings.TrimSpace(t.msg.Body); caption != "" {
		text = caption + "\n" + text
	}
	return text, true
}

// sendText delivers a plain reply. Send failures are logged and swallowed;
// there is nothing further to do for this turn.
func (d *Dispatcher) sendText(ctx context.Context, to, body string) {
	if err := d.sender.SendMessage(ctx, to, body); err != nil {
		slog.Error("Dispatcher.sendText: send failed", "error", err, "to", to)
	}
}

func (d *Dispatcher) sendButtons(ctx context.Context, to, body string, buttons []models.ButtonOption) {
	if err := d.sender.SendQuickReplyButtons(ctx, to, body, buttons); err != nil {
		slog.Error("Dispatcher.sendButtons: send failed", "error", err, "to", to)
	}
}
