package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"loggram/internal/monitor"
	"loggram/internal/registry"
	kit "loggram/internal/transport"
	logx "loggram/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Request carries one parsed command invocation.
type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
}

type Command struct {
	Name        string
	Description string
	Usage       string
	OwnerOnly   bool
	Handle      HandlerFunc
}

type Deps struct {
	Adapter  kit.Adapter
	Registry *registry.Registry
	History  *registry.History
	Monitor  *monitor.Service
	Owners   []int64
	Log      logx.Logger
}

// Router parses incoming chat messages into commands and dispatches
// them. Commands run sequentially in update order.
type Router struct {
	deps     Deps
	log      logx.Logger
	commands map[string]*Command
	order    []string
}

const handlerTimeout = 30 * time.Second

func New(deps Deps) *Router {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		deps:     deps,
		log:      log.With(logx.String("component", "router")),
		commands: map[string]*Command{},
	}
	r.registerCommands()
	return r
}

func (r *Router) register(c Command) {
	cmd := c
	r.commands[c.Name] = &cmd
	r.order = append(r.order, c.Name)
}

// Run consumes the adapter's update channel until ctx is cancelled.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			r.handleMessage(ctx, up.Message)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	name, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	cmd, ok := r.commands[name]
	if !ok {
		return
	}

	req := &Request{
		Chat:    kit.ChatTarget{ChatID: m.ChatID},
		FromID:  m.FromID,
		Command: name,
		Args:    args,
	}

	if cmd.OwnerOnly && !r.isOwner(m.FromID) {
		r.log.Warn("command denied",
			logx.String("cmd", name),
			logx.Int64("from_id", m.FromID))
		_ = r.reply(ctx, req, "⛔ You are not allowed to use this bot.")
		return
	}

	start := time.Now()
	err := r.invoke(ctx, cmd, req)
	if err != nil {
		r.log.Warn("command failed",
			logx.String("cmd", name),
			logx.Int64("from_id", m.FromID),
			logx.Duration("dur", time.Since(start)),
			logx.Err(err))
		return
	}
	r.log.Debug("command ok",
		logx.String("cmd", name),
		logx.Int64("from_id", m.FromID),
		logx.Duration("dur", time.Since(start)))
}

func (r *Router) invoke(ctx context.Context, cmd *Command, req *Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("command panicked",
				logx.String("cmd", req.Command),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	cctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	return cmd.Handle(cctx, req)
}

func (r *Router) isOwner(userID int64) bool {
	for _, id := range r.deps.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	_, err := r.deps.Adapter.SendText(ctx, req.Chat, text,
		&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// parseCommand extracts "/name arg arg" from a message, tolerating the
// "/name@botname" form used in groups.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
