// Package notification pushes engine events to external sinks. The
// telegram sink doubles as a minimal operator console: halting and
// resuming symbols, force-closing trades, and inspecting state.
package notification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/raykavin/duotrade/core"
	"github.com/raykavin/duotrade/logger"
	"github.com/raykavin/duotrade/order"
	"github.com/raykavin/duotrade/risk"
	tb "gopkg.in/tucnak/telebot.v2"
)

const pollingTimeout = 10 * time.Second

// Commands that act on one symbol take it as the single argument.
var symbolRegexp = regexp.MustCompile(`/\w+\s+(?P<symbol>\w+)`)

// Settings carries the bot token and the whitelist of user IDs the
// bot answers to.
type Settings struct {
	Token string
	Users []int64
}

// Telegram implements core.NotifierWithStart. Send failures are
// logged and swallowed: the notifier must never affect trading.
type Telegram struct {
	settings    Settings
	manager     *order.Manager
	governor    *risk.Governor
	gw          core.Gateway
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	log         logger.Logger
}

// NewTelegram builds the bot, registers the operator commands, and
// wires the authorized-user middleware.
func NewTelegram(manager *order.Manager, governor *risk.Governor, gw core.Gateway, settings Settings, log logger.Logger) (core.NotifierWithStart, error) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: pollingTimeout}

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Token,
		Poller:    newAuthMiddleware(poller, settings, log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		settings:    settings,
		manager:     manager,
		governor:    governor,
		gw:          gw,
		defaultMenu: menu,
		client:      client,
		log:         log,
	}

	client.Handle("/help", bot.HelpHandle)
	client.Handle("/status", bot.StatusHandle)
	client.Handle("/positions", bot.PositionsHandle)
	client.Handle("/profit", bot.ProfitHandle)
	client.Handle("/halt", bot.HaltHandle)
	client.Handle("/resume", bot.ResumeHandle)
	client.Handle("/close", bot.CloseHandle)

	return bot, nil
}

// newAuthMiddleware drops updates from users outside the whitelist.
func newAuthMiddleware(poller *tb.LongPoller, settings Settings, log logger.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}
		if slices.Contains(settings.Users, u.Message.Sender.ID) {
			return true
		}
		log.Error("unauthorized user ", u.Message.Sender.ID)
		return false
	})
}

func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		statusBtn    = menu.Text("/status")
		positionsBtn = menu.Text("/positions")
		profitBtn    = menu.Text("/profit")
		haltBtn      = menu.Text("/halt")
		resumeBtn    = menu.Text("/resume")
		closeBtn     = menu.Text("/close")
	)
	menu.Reply(
		menu.Row(statusBtn, positionsBtn, profitBtn),
		menu.Row(haltBtn, resumeBtn, closeBtn),
	)
}

func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Risk governor and account state"},
		{Text: "/positions", Description: "Open dual trades"},
		{Text: "/profit", Description: "Per-symbol trade summaries"},
		{Text: "/halt", Description: "Halt new entries for a symbol"},
		{Text: "/resume", Description: "Resume entries for a halted symbol"},
		{Text: "/close", Description: "Force-close a symbol's open trade"},
	})
}

// Start begins the receive loop and greets the authorized users.
func (t *Telegram) Start() {
	go t.client.Start()
	t.sendToAll("Engine online.", t.defaultMenu)
}

// Notify sends a message to all authorized users.
func (t *Telegram) Notify(text string) {
	t.sendToAll(text)
}

func (t *Telegram) sendToAll(text string, options ...any) {
	for _, user := range t.settings.Users {
		if _, err := t.client.Send(&tb.User{ID: user}, text, options...); err != nil {
			t.log.WithError(err).Error("failed to send notification")
		}
	}
}

func (t *Telegram) sendMessage(to *tb.User, text string, options ...any) {
	if _, err := t.client.Send(to, text, options...); err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

// HelpHandle displays the registered commands.
func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get commands")
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("%s - %s", command.Text, command.Description))
	}
	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// StatusHandle reports the governor snapshot and account state.
func (t *Telegram) StatusHandle(m *tb.Message) {
	var sb strings.Builder
	sb.WriteString("*STATUS*\n")

	snap := t.governor.Snapshot(time.Now().UTC())
	fmt.Fprintf(&sb, "Trading allowed: `%t`\n", snap.TradingAllowed)
	fmt.Fprintf(&sb, "Open trades: `%d`\n", snap.OpenTotal)
	fmt.Fprintf(&sb, "Realized today: `%.2f`\n", snap.RealizedToday)
	fmt.Fprintf(&sb, "Floating PnL: `%.2f`\n", snap.FloatingPnL)
	fmt.Fprintf(&sb, "Drawdown: `%.2f%%`\n", snap.DrawdownPct)

	account, err := t.gw.Account(context.Background())
	if err != nil {
		t.log.WithError(err).Error("failed to get account")
	} else {
		sb.WriteString("-----\n")
		fmt.Fprintf(&sb, "Balance: `%.2f` %s\n", account.Balance, account.Currency)
		fmt.Fprintf(&sb, "Equity: `%.2f` %s\n", account.Equity, account.Currency)
		fmt.Fprintf(&sb, "Free margin: `%.2f` %s\n", account.MarginFree, account.Currency)
	}

	t.sendMessage(m.Sender, sb.String())
}

// PositionsHandle lists the open dual trades.
func (t *Telegram) PositionsHandle(m *tb.Message) {
	var lines []string
	for _, summary := range t.manager.Summaries() {
		trade := t.manager.Trade(summary.Symbol)
		if trade == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("`%s`", trade))
	}
	if len(lines) == 0 {
		t.sendMessage(m.Sender, "No open trades.")
		return
	}
	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// ProfitHandle shows the per-symbol trade summaries.
func (t *Telegram) ProfitHandle(m *tb.Message) {
	summaries := t.manager.Summaries()
	if len(summaries) == 0 {
		t.sendMessage(m.Sender, "No trades registered.")
		return
	}

	for _, summary := range summaries {
		t.sendMessage(m.Sender, fmt.Sprintf("*SYMBOL*: `%s`\n`%s`", summary.Symbol, summary))
	}
}

// HaltHandle blocks new entries for one symbol.
func (t *Telegram) HaltHandle(m *tb.Message) {
	symbol, ok := t.parseSymbol(m, "/halt EURUSD")
	if !ok {
		return
	}
	t.governor.Halt(symbol)
	t.sendMessage(m.Sender, fmt.Sprintf("Halted `%s`. Open trades keep running.", symbol), t.defaultMenu)
}

// ResumeHandle lifts a halt set by /halt or an invariant violation.
func (t *Telegram) ResumeHandle(m *tb.Message) {
	symbol, ok := t.parseSymbol(m, "/resume EURUSD")
	if !ok {
		return
	}
	if !t.governor.Halted(symbol) {
		t.sendMessage(m.Sender, fmt.Sprintf("`%s` is not halted.", symbol))
		return
	}
	t.governor.Resume(symbol)
	t.sendMessage(m.Sender, fmt.Sprintf("Resumed `%s`.", symbol), t.defaultMenu)
}

// CloseHandle force-closes the symbol's open trade at market.
func (t *Telegram) CloseHandle(m *tb.Message) {
	symbol, ok := t.parseSymbol(m, "/close EURUSD")
	if !ok {
		return
	}
	if t.manager.Trade(symbol) == nil {
		t.sendMessage(m.Sender, fmt.Sprintf("No open trade on `%s`.", symbol))
		return
	}
	if err := t.manager.ForceClose(context.Background(), symbol); err != nil {
		t.log.WithError(err).WithField("symbol", symbol).Error("force close failed")
		t.sendMessage(m.Sender, fmt.Sprintf("Close failed: `%s`", err))
		return
	}
	t.sendMessage(m.Sender, fmt.Sprintf("Closed `%s` at market.", symbol))
}

func (t *Telegram) parseSymbol(m *tb.Message, usage string) (string, bool) {
	match := symbolRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, fmt.Sprintf("Invalid command.\nUsage: `%s`", usage))
		return "", false
	}
	return strings.ToUpper(match[1]), true
}

// OnTrade notifies users when a dual trade terminates.
func (t *Telegram) OnTrade(trade *core.DualTrade) {
	var sb strings.Builder
	if trade.Profit() >= 0 {
		fmt.Fprintf(&sb, "✅ TRADE CLOSED - %s\n", trade.Symbol)
	} else {
		fmt.Fprintf(&sb, "❌ TRADE CLOSED - %s\n", trade.Symbol)
	}
	sb.WriteString("-----\n")
	fmt.Fprintf(&sb, "`%s`\n", trade)
	fmt.Fprintf(&sb, "Leg 1: `%.2f` (%s)\n", trade.Leg1.Profit, trade.Leg1.ExitReason)
	fmt.Fprintf(&sb, "Leg 2: `%.2f` (%s)\n", trade.Leg2.Profit, trade.Leg2.ExitReason)
	fmt.Fprintf(&sb, "Total: `%.2f`", trade.Profit())
	t.Notify(sb.String())
}

// OnError notifies users about engine errors.
func (t *Telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("🛑 ERROR\n-----\n")

	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		fmt.Fprintf(&sb, "Symbol: %s\n", gwErr.Symbol)
		fmt.Fprintf(&sb, "Operation: %s\n", gwErr.Op)
		fmt.Fprintf(&sb, "Kind: %s\n-----\n", gwErr.Kind)
	}
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}
