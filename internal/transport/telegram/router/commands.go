package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"loggram/internal/monitor"
	"loggram/internal/registry"
)

func (r *Router) registerCommands() {
	r.register(Command{
		Name:        "add",
		Description: "Register a project for monitoring",
		Usage:       "/add <name> <api_url> <chat_id> [tag,tag...]",
		OwnerOnly:   true,
		Handle:      r.cmdAdd,
	})
	r.register(Command{
		Name:        "remove",
		Description: "Stop monitoring a project",
		Usage:       "/remove <name>",
		OwnerOnly:   true,
		Handle:      r.cmdRemove,
	})
	r.register(Command{
		Name:        "list",
		Description: "List monitored projects",
		OwnerOnly:   true,
		Handle:      r.cmdList,
	})
	r.register(Command{
		Name:        "start_monitor",
		Description: "Start the polling monitor",
		OwnerOnly:   true,
		Handle:      r.cmdStartMonitor,
	})
	r.register(Command{
		Name:        "stop_monitor",
		Description: "Stop the polling monitor",
		OwnerOnly:   true,
		Handle:      r.cmdStopMonitor,
	})
	r.register(Command{
		Name:        "status",
		Description: "Monitor status",
		OwnerOnly:   true,
		Handle:      r.cmdStatus,
	})
	r.register(Command{
		Name:        "help",
		Description: "Show available commands",
		OwnerOnly:   true,
		Handle:      r.cmdHelp,
	})
}

func (r *Router) cmdAdd(ctx context.Context, req *Request) error {
	if len(req.Args) < 3 {
		return r.reply(ctx, req, "Usage: <code>/add &lt;name&gt; &lt;api_url&gt; &lt;chat_id&gt; [tag,tag...]</code>")
	}
	name, apiURL := req.Args[0], req.Args[1]
	chatID, err := strconv.ParseInt(req.Args[2], 10, 64)
	if err != nil {
		return r.reply(ctx, req, "chat_id must be a number")
	}
	var tags []string
	if len(req.Args) > 3 {
		tags = strings.Split(strings.Join(req.Args[3:], ","), ",")
	}

	p, err := r.deps.Registry.Add(ctx, name, apiURL, chatID, tags)
	switch {
	case errors.Is(err, registry.ErrAlreadyExists):
		return r.reply(ctx, req, fmt.Sprintf("⚠️ Project <b>%s</b> already exists.", html.EscapeString(name)))
	case err != nil:
		return r.reply(ctx, req, "❌ Failed to add project: "+html.EscapeString(err.Error()))
	}

	return r.reply(ctx, req, fmt.Sprintf(
		"✅ Project <b>%s</b> added.\nAPI: <code>%s</code>\nChat: <code>%d</code>\nOnly logs after now will be forwarded.",
		html.EscapeString(p.Name), html.EscapeString(p.APIURL), p.ChannelID))
}

func (r *Router) cmdRemove(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return r.reply(ctx, req, "Usage: <code>/remove &lt;name&gt;</code>")
	}
	name := req.Args[0]

	err := r.deps.Registry.Remove(ctx, name)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return r.reply(ctx, req, fmt.Sprintf("⚠️ Project <b>%s</b> not found.", html.EscapeString(name)))
	case err != nil:
		return r.reply(ctx, req, "❌ Failed to remove project: "+html.EscapeString(err.Error()))
	}
	return r.reply(ctx, req, fmt.Sprintf("🗑 Project <b>%s</b> removed. Its delivery history is kept.", html.EscapeString(name)))
}

func (r *Router) cmdList(ctx context.Context, req *Request) error {
	projects := r.deps.Registry.List()
	if len(projects) == 0 {
		return r.reply(ctx, req, "No projects registered. Use /add to register one.")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("📋 <b>Projects</b> (%d)\n", len(projects)))
	for _, p := range projects {
		b.WriteString(fmt.Sprintf("\n<b>%s</b>\n", html.EscapeString(p.Name)))
		b.WriteString(fmt.Sprintf("  API: <code>%s</code>\n", html.EscapeString(p.APIURL)))
		b.WriteString(fmt.Sprintf("  Chat: <code>%d</code>\n", p.ChannelID))
		if len(p.Tags) > 0 {
			b.WriteString("  Tags: " + html.EscapeString(strings.Join(p.Tags, ", ")) + "\n")
		}
		b.WriteString("  Last check: " + p.LastCheck.Local().Format("2006-01-02 15:04:05") + "\n")
		if n, err := r.deps.History.DeliveredCount(ctx, p.Name); err == nil {
			b.WriteString(fmt.Sprintf("  Delivered: %d\n", n))
		}
	}
	return r.reply(ctx, req, b.String())
}

func (r *Router) cmdStartMonitor(ctx context.Context, req *Request) error {
	err := r.deps.Monitor.Start()
	switch {
	case errors.Is(err, monitor.ErrAlreadyRunning):
		return r.reply(ctx, req, "⚠️ Monitoring is already running.")
	case errors.Is(err, monitor.ErrNoProjects):
		return r.reply(ctx, req, "⚠️ No projects registered. Use /add first.")
	case err != nil:
		return r.reply(ctx, req, "❌ Failed to start monitoring: "+html.EscapeString(err.Error()))
	}
	return r.reply(ctx, req, "▶️ Monitoring started.")
}

func (r *Router) cmdStopMonitor(ctx context.Context, req *Request) error {
	err := r.deps.Monitor.Stop(ctx)
	switch {
	case errors.Is(err, monitor.ErrNotRunning):
		return r.reply(ctx, req, "⚠️ Monitoring is not running.")
	case err != nil:
		return r.reply(ctx, req, "❌ Failed to stop monitoring: "+html.EscapeString(err.Error()))
	}
	return r.reply(ctx, req, "⏹ Monitoring stopped.")
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	st := r.deps.Monitor.Status()

	state := "⏹ stopped"
	if st.Running {
		state = "▶️ running"
	}
	var b strings.Builder
	b.WriteString("<b>Monitor status</b>\n")
	b.WriteString("State: " + state + "\n")
	b.WriteString(fmt.Sprintf("Projects: %d\n", st.Projects))
	b.WriteString(fmt.Sprintf("Cycles: %d\n", st.Cycles))
	if !st.LastCycle.IsZero() {
		b.WriteString("Last cycle: " + st.LastCycle.Local().Format("2006-01-02 15:04:05") + "\n")
	}
	return r.reply(ctx, req, b.String())
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, name := range r.order {
		c := r.commands[name]
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(fmt.Sprintf("%s — %s\n", html.EscapeString(usage), html.EscapeString(c.Description)))
	}
	return r.reply(ctx, req, b.String())
}
