package app

import (
	"context"
	"fmt"
	"time"

	"resv_relay/internal/model"
	"resv_relay/internal/service/node"
	"resv_relay/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	sendTimeout   = 15 * time.Second
	lookupTimeout = 5 * time.Second
)

type (
	// App is the terminal client of a booking agent talking to one merchant.
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		node         *node.Node
		merchant     string
		merchantName string
	}
)

func NewApp(n *node.Node, merchantPub string) *App {
	return &App{
		app:          tview.NewApplication(),
		node:         n,
		merchant:     merchantPub,
		merchantName: shortKey(merchantPub),
	}
}

// Run blocks until the UI exits or ctx is done.
func (c *App) Run(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	if p, err := c.node.Profiles.Lookup(lctx, c.merchant); err == nil {
		if name := displayName(p); name != "" {
			c.merchantName = name
		}
	} else {
		log.Debug("merchant profile unavailable", zap.String("merchant", c.merchant), zap.Error(err))
	}
	cancel()

	c.buildUI()
	go c.watchInbox(ctx)
	go func() {
		<-ctx.Done()
		c.app.Stop()
	}()
	return c.app.SetRoot(c.layout(), true).SetFocus(c.input).Run()
}

func (c *App) Stop() {
	c.app.Stop()
}

func (c *App) buildUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Reservations with %s ", tview.Escape(c.merchantName)))

	c.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" /book /accept /decline /help ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")
		go c.execute(text)
	})
}

func (c *App) layout() tview.Primitive {
	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)
}

func (c *App) watchInbox(ctx context.Context) {
	updates := c.node.Inbox.Updates()
	c.redraw()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			c.redraw()
		}
	}
}

func (c *App) redraw() {
	ths := ThreadsWith(c.node.Inbox.Threads(), c.merchant)
	var lines []string
	// inbox order is most recent first; the chatbox reads top down
	for i := len(ths) - 1; i >= 0; i-- {
		th := ths[i]
		lines = append(lines, fmt.Sprintf("[::d]thread %s[::-]", shortKey(th.RootID)))
		lines = append(lines, FormatThread(th, c.node.PublicKey(), c.merchantName)...)
	}
	c.app.QueueUpdateDraw(func() {
		c.chatbox.Clear()
		for _, l := range lines {
			fmt.Fprintln(c.chatbox, l)
		}
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) execute(line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		c.notice("[red]%s[-]", tview.Escape(err.Error()))
		return
	}
	if cmd.Kind == CommandHelp {
		c.notice("%s", tview.Escape(helpText))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	switch cmd.Kind {
	case CommandBook:
		_, err = c.node.SendRequest(ctx, c.merchant, cmd.Request)
	case CommandAccept, CommandDecline:
		th := LatestThreadWith(c.node.Inbox.Threads(), c.merchant)
		if th == nil {
			c.notice("[red]no reservation with this merchant yet[-]")
			return
		}
		if cmd.Kind == CommandAccept {
			_, err = c.node.AcceptModification(ctx, th.RootID, cmd.Note)
		} else {
			_, err = c.node.Reply(ctx, th.RootID, &model.ReservationModificationResponse{
				Status:  model.StatusDeclined,
				Message: cmd.Note,
			})
		}
	}
	if err != nil {
		log.Error("command failed", zap.String("line", line), zap.Error(err))
		c.notice("[red]%s[-]", tview.Escape(err.Error()))
	}
}

func (c *App) notice(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format+"\n", args...)
		c.chatbox.ScrollToEnd()
	})
}

func displayName(p *model.Profile) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

func shortKey(k string) string {
	if len(k) <= 12 {
		return k
	}
	return k[:8] + "…" + k[len(k)-4:]
}
