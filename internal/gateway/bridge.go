package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/command"
	"github.com/kestrel-ai/banter/internal/orchestrator"
	"github.com/kestrel-ai/banter/internal/persona"
	"github.com/kestrel-ai/banter/internal/session"
)

// Bridge routes inbound platform messages through the orchestrator and
// sends the reply back to the originating channel. Each platform
// channel+user pair maps to one conversation with a single writer.
type Bridge struct {
	manager  *Manager
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	personas *persona.Registry
	commands *command.Registry
	deps     *command.Deps
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]*bridgeSession
}

type bridgeSession struct {
	mu   sync.Mutex
	sess *session.Session
}

// NewBridge wires a bridge and installs it as the manager's handler.
func NewBridge(manager *Manager, orch *orchestrator.Orchestrator, sessions *session.Manager, personas *persona.Registry, commands *command.Registry, deps *command.Deps, logger *zap.Logger) *Bridge {
	b := &Bridge{
		manager:  manager,
		orch:     orch,
		sessions: sessions,
		personas: personas,
		commands: commands,
		deps:     deps,
		logger:   logger,
		active:   make(map[string]*bridgeSession),
	}
	manager.SetHandler(b.handleInbound)
	return b
}

func (b *Bridge) handleInbound(msg *InboundMessage) {
	ctx := context.Background()
	active := b.sessionFor(msg)
	active.mu.Lock()
	defer active.mu.Unlock()

	var reply string
	if b.commands != nil && command.IsCommand(msg.Content) {
		result, err := b.commands.Dispatch(ctx, msg.Content, &command.Context{
			SessionID: active.sess.ID(),
			UserID:    msg.UserID,
			Deps:      b.deps,
		})
		if err != nil {
			b.logger.Warn("command failed",
				zap.String("platform", msg.Platform), zap.Error(err))
			reply = "Command failed: " + err.Error()
		} else {
			reply = result.Content
		}
	} else {
		result, err := b.orch.HandleTurn(ctx, active.sess, msg.Content)
		if err != nil {
			b.logger.Warn("turn failed",
				zap.String("platform", msg.Platform), zap.Error(err))
			reply = "Sorry, I could not reach the model. Please try again."
		} else {
			reply = result.Reply
		}
	}

	out := &OutboundMessage{
		Platform:    msg.Platform,
		ChannelID:   msg.ChannelID,
		PersonaName: b.personas.Get(active.sess.Persona()).Name,
		Content:     reply,
	}
	if err := b.manager.Send(ctx, out); err != nil {
		b.logger.Error("send reply failed",
			zap.String("platform", msg.Platform), zap.Error(err))
	}
}

func (b *Bridge) sessionFor(msg *InboundMessage) *bridgeSession {
	key := msg.Platform + ":" + msg.ChannelID + ":" + msg.UserID

	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.active[key]; ok {
		return a
	}
	a := &bridgeSession{sess: session.New(msg.UserID, persona.DefaultID)}
	b.active[key] = a
	return a
}
