package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zestbot/zest/internal/command"
	"github.com/zestbot/zest/internal/config"
	zerrors "github.com/zestbot/zest/internal/errors"
	"github.com/zestbot/zest/internal/ledger"
	"github.com/zestbot/zest/internal/logging"
	"github.com/zestbot/zest/internal/metrics"
	"github.com/zestbot/zest/internal/reconcile"
)

// Feature tokens behind the license gate. Each maps to one inline button
// on the status card.
const (
	featureSIP      = "sip"
	featureSMS      = "sms"
	featureCallerID = "caller_id"
	featureMusic    = "musique"
	featureMail     = "mail"
)

var featureLabels = map[string]string{
	featureSIP:      "📞 Appel SIP",
	featureSMS:      "✉️ SMS",
	featureCallerID: "🎭 Caller ID",
	featureMusic:    "🎵 Musique d'attente",
	featureMail:     "📧 Mail Sender",
}

// Menu callbacks outside the license gate.
const (
	callbackBuy      = "acheter"
	callbackRecharge = "recharger"
	callbackRefresh  = "refresh"
	callbackSettings = "parametres"
)

// Bot connects the Telegram update stream to the command surface. One
// account per chat; the account id is the decimal chat id.
type Bot struct {
	client  *Client
	surface *command.Surface
	cfg     *config.Config
	logger  zerolog.Logger
}

func New(client *Client, surface *command.Surface, cfg *config.Config) *Bot {
	return &Bot{
		client:  client,
		surface: surface,
		cfg:     cfg,
		logger:  logging.With("bot"),
	}
}

// Run long-polls for updates until ctx is cancelled. Poll failures back
// off and retry; a single bad update never stops the loop.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	b.logger.Info().Str("username", me.Username).Int64("botID", me.ID).Msg("Bot connected")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := b.client.GetUpdates(ctx, offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn().Err(err).Msg("Update poll failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, *update.CallbackQuery)
	case update.Message != nil && strings.HasPrefix(update.Message.Text, "/"):
		b.handleCommand(ctx, *update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg Message) {
	fields := strings.Fields(msg.Text)
	cmd := strings.TrimPrefix(fields[0], "/")
	// Commands in groups arrive as /cmd@botname.
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	args := fields[1:]

	metrics.BotCommandsTotal.WithLabelValues(cmd).Inc()
	logger := b.logger.With().Int64("chatID", msg.Chat.ID).Str("command", cmd).Logger()

	var err error
	switch cmd {
	case "start":
		err = b.sendStatusCard(ctx, msg.Chat.ID)
	case "acheter":
		err = b.buyLicense(ctx, msg.Chat.ID)
	case "recharger":
		err = b.recharge(ctx, msg.Chat.ID, args)
	case "admin":
		err = b.adminStats(ctx, msg.Chat.ID, userID(msg))
	case "diffuser":
		err = b.broadcast(ctx, msg.Chat.ID, userID(msg), strings.TrimSpace(strings.TrimPrefix(msg.Text, fields[0])))
	default:
		err = b.reply(ctx, msg.Chat.ID, "Commande inconnue. Utilisez /start pour voir le menu.")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Command handling failed")
	}
}

// statusCard renders the account card: id, balance, license state and
// server time.
func (b *Bot) statusCard(snap ledger.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("🍋 *Bienvenue sur Zest*\n\n")
	fmt.Fprintf(&sb, "🆔 Compte : `%s`\n", snap.ID)
	fmt.Fprintf(&sb, "💰 Crédits : *%d*\n", snap.Credits)
	if snap.LicenseStatus.Active() {
		fmt.Fprintf(&sb, "🔑 Licence : *active* jusqu'au %s\n", snap.LicenseExpiry.Format("02/01/2006"))
	} else {
		sb.WriteString("🔑 Licence : *inactive*\n")
		fmt.Fprintf(&sb, "\nAchetez une licence (%d %s / %d jours) avec /acheter.\n",
			b.cfg.LicensePrice, strings.ToUpper(b.cfg.PriceCurrency), int(b.cfg.LicenseGrant.Hours()/24))
	}
	fmt.Fprintf(&sb, "\n🕒 %s", time.Now().Format("02/01/2006 15:04"))
	return sb.String()
}

func (b *Bot) statusKeyboard() *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{
			{
				{Text: featureLabels[featureSIP], CallbackData: featureSIP},
				{Text: featureLabels[featureSMS], CallbackData: featureSMS},
			},
			{
				{Text: featureLabels[featureCallerID], CallbackData: featureCallerID},
				{Text: featureLabels[featureMusic], CallbackData: featureMusic},
			},
			{
				{Text: featureLabels[featureMail], CallbackData: featureMail},
				{Text: "⚙️ Paramètres", CallbackData: callbackSettings},
			},
			{
				{Text: "🔑 Acheter une licence", CallbackData: callbackBuy},
				{Text: "💳 Recharger", CallbackData: callbackRecharge},
			},
			{
				{Text: "🔄 Actualiser", CallbackData: callbackRefresh},
			},
		},
	}
}

func (b *Bot) sendStatusCard(ctx context.Context, chatID int64) error {
	snap, err := b.surface.Snapshot(accountID(chatID))
	if err != nil {
		return b.reply(ctx, chatID, "Service momentanément indisponible, réessayez plus tard.")
	}

	_, err = b.client.SendMessage(ctx, SendMessageRequest{
		ChatID:      chatID,
		Text:        b.statusCard(snap),
		ParseMode:   "Markdown",
		ReplyMarkup: b.statusKeyboard(),
	})
	return err
}

// sendSettingsCard shows the account's pricing parameters. Nothing here
// requires a license.
func (b *Bot) sendSettingsCard(ctx context.Context, chatID int64) error {
	currency := strings.ToUpper(b.cfg.PriceCurrency)
	var sb strings.Builder
	sb.WriteString("⚙️ *Paramètres*\n\n")
	fmt.Fprintf(&sb, "🆔 Compte : `%s`\n", accountID(chatID))
	fmt.Fprintf(&sb, "🔑 Licence : %d %s / %d jours\n",
		b.cfg.LicensePrice, currency, int(b.cfg.LicenseGrant.Hours()/24))
	fmt.Fprintf(&sb, "💳 Recharge minimum : %d %s\n", b.cfg.MinRecharge, currency)
	fmt.Fprintf(&sb, "💱 Devise : %s\n", currency)

	_, err := b.client.SendMessage(ctx, SendMessageRequest{
		ChatID:    chatID,
		Text:      sb.String(),
		ParseMode: "Markdown",
	})
	return err
}

// refreshStatusCard redraws the card in place.
func (b *Bot) refreshStatusCard(ctx context.Context, chatID, messageID int64) error {
	snap, err := b.surface.Snapshot(accountID(chatID))
	if err != nil {
		return err
	}
	return b.client.EditMessageText(ctx, EditMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        b.statusCard(snap),
		ParseMode:   "Markdown",
		ReplyMarkup: b.statusKeyboard(),
	})
}

func (b *Bot) buyLicense(ctx context.Context, chatID int64) error {
	invoiceURL, err := b.surface.BuyLicense(ctx, accountID(chatID))
	if err != nil {
		b.logger.Error().Err(err).Int64("chatID", chatID).Msg("Failed to create license invoice")
		return b.reply(ctx, chatID, "Impossible de créer la facture, réessayez plus tard.")
	}

	text := fmt.Sprintf("🔑 Licence %d jours — %d %s\n\nRéglez via le lien ci-dessous. La licence s'active automatiquement à la confirmation du paiement.",
		int(b.cfg.LicenseGrant.Hours()/24), b.cfg.LicensePrice, strings.ToUpper(b.cfg.PriceCurrency))
	_, err = b.client.SendMessage(ctx, SendMessageRequest{
		ChatID: chatID,
		Text:   text,
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
			{{Text: "💳 Payer", URL: invoiceURL}},
		}},
	})
	return err
}

func (b *Bot) recharge(ctx context.Context, chatID int64, args []string) error {
	if len(args) != 1 {
		return b.reply(ctx, chatID, fmt.Sprintf("Usage : /recharger <montant> (minimum %d %s)",
			b.cfg.MinRecharge, strings.ToUpper(b.cfg.PriceCurrency)))
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || amount <= 0 {
		return b.reply(ctx, chatID, "Montant invalide. Exemple : /recharger 20")
	}

	invoiceURL, err := b.surface.Recharge(ctx, accountID(chatID), amount)
	if err != nil {
		if errors.Is(err, zerrors.ErrInvalidAmount) {
			return b.reply(ctx, chatID, fmt.Sprintf("Le montant minimum est de %d %s.",
				b.cfg.MinRecharge, strings.ToUpper(b.cfg.PriceCurrency)))
		}
		b.logger.Error().Err(err).Int64("chatID", chatID).Msg("Failed to create recharge invoice")
		return b.reply(ctx, chatID, "Impossible de créer la facture, réessayez plus tard.")
	}

	text := fmt.Sprintf("💰 Recharge de %d %s\n\nRéglez via le lien ci-dessous. Les crédits sont ajoutés à la confirmation du paiement.",
		amount, strings.ToUpper(b.cfg.PriceCurrency))
	_, err = b.client.SendMessage(ctx, SendMessageRequest{
		ChatID: chatID,
		Text:   text,
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
			{{Text: "💳 Payer", URL: invoiceURL}},
		}},
	})
	return err
}

func (b *Bot) adminStats(ctx context.Context, chatID, requesterID int64) error {
	stats, err := b.surface.AdminStats(requesterID)
	if err != nil {
		if errors.Is(err, zerrors.ErrUnauthorized) {
			return b.reply(ctx, chatID, "⛔ Commande réservée aux administrateurs.")
		}
		return err
	}
	return b.reply(ctx, chatID, fmt.Sprintf("📊 Comptes : %d\n💰 Crédits en circulation : %d\n🔑 Licences actives : %d",
		stats.Accounts, stats.TotalCredits, stats.ActiveLicenses))
}

// broadcast sends text to every known account. Delivery is best effort;
// blocked chats are skipped with a warning.
func (b *Bot) broadcast(ctx context.Context, chatID, requesterID int64, text string) error {
	if !b.surface.IsAdmin(requesterID) {
		return b.reply(ctx, chatID, "⛔ Commande réservée aux administrateurs.")
	}
	if text == "" {
		return b.reply(ctx, chatID, "Usage : /diffuser <message>")
	}

	sent := 0
	for _, id := range b.surface.AccountIDs() {
		target, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if _, err := b.client.SendMessage(ctx, SendMessageRequest{ChatID: target, Text: "📢 " + text}); err != nil {
			b.logger.Warn().Err(err).Str("account", id).Msg("Broadcast delivery failed")
			continue
		}
		sent++
	}
	return b.reply(ctx, chatID, fmt.Sprintf("Message diffusé à %d compte(s).", sent))
}

// handleCallback routes button presses: the menu buttons mirror their
// slash commands, the feature buttons are gated on an active license.
func (b *Bot) handleCallback(ctx context.Context, cb CallbackQuery) {
	if cb.Message == nil {
		_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID

	switch cb.Data {
	case callbackBuy:
		_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "")
		if err := b.buyLicense(ctx, chatID); err != nil {
			b.logger.Error().Err(err).Int64("chatID", chatID).Msg("Buy button handling failed")
		}
		return
	case callbackRecharge:
		_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "")
		_ = b.reply(ctx, chatID, fmt.Sprintf("Indiquez le montant : /recharger <montant> (minimum %d %s)",
			b.cfg.MinRecharge, strings.ToUpper(b.cfg.PriceCurrency)))
		return
	case callbackRefresh:
		_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "")
		if err := b.refreshStatusCard(ctx, chatID, cb.Message.MessageID); err != nil {
			b.logger.Error().Err(err).Int64("chatID", chatID).Msg("Status refresh failed")
		}
		return
	case callbackSettings:
		_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "")
		if err := b.sendSettingsCard(ctx, chatID); err != nil {
			b.logger.Error().Err(err).Int64("chatID", chatID).Msg("Settings card failed")
		}
		return
	}

	label, known := featureLabels[cb.Data]
	if !known {
		_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "")
		return
	}

	metrics.BotCommandsTotal.WithLabelValues("feature_" + cb.Data).Inc()

	if err := b.surface.RequireLicense(accountID(chatID)); err != nil {
		if errors.Is(err, command.ErrLicenseRequired) {
			_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "Licence requise")
			_ = b.reply(ctx, chatID, "🔒 Cette fonction nécessite une licence active. Utilisez /acheter.")
			return
		}
		b.logger.Error().Err(err).Int64("chatID", chatID).Msg("License check failed")
		_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "Erreur, réessayez")
		return
	}

	_ = b.client.AnswerCallbackQuery(ctx, cb.ID, "")
	_ = b.reply(ctx, chatID, fmt.Sprintf("%s — envoyez les paramètres de votre opération.", label))
}

// NotifyPayment tells the account's chat that a confirmed payment was
// applied. Implements the reconciler's notifier.
func (b *Bot) NotifyPayment(ctx context.Context, account string, outcome reconcile.Outcome, kind reconcile.Kind) error {
	chatID, err := strconv.ParseInt(account, 10, 64)
	if err != nil {
		return fmt.Errorf("account %q is not a chat id: %w", account, err)
	}

	var text string
	switch kind {
	case reconcile.KindCreditRecharge:
		text = fmt.Sprintf("✅ Paiement confirmé ! Nouveau solde : %d crédits.", outcome.NewBalance)
	case reconcile.KindLicensePurchase:
		text = "✅ Paiement confirmé ! Votre licence est active."
		if outcome.NewExpiry != nil {
			text = fmt.Sprintf("✅ Paiement confirmé ! Licence active jusqu'au %s.", outcome.NewExpiry.Format("02/01/2006"))
		}
	default:
		return nil
	}

	return b.reply(ctx, chatID, text)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	_, err := b.client.SendMessage(ctx, SendMessageRequest{ChatID: chatID, Text: text})
	return err
}

// accountID maps a Telegram chat to its ledger account id.
func accountID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func userID(msg Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}
