package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/calnotify/calnotify/internal/domain"
	"github.com/calnotify/calnotify/internal/service"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}

	hctx, cancel := b.handlerContext(ctx)
	defer cancel()

	b.handleMessage(hctx, update.Message)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	user, err := b.storage.GetUserByChatID(ctx, chatID)
	if err != nil {
		log.Printf("Error getting user for chat %d: %v", chatID, err)
		return
	}
	if user != nil {
		b.syncUserDetails(ctx, user, msg.From)
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	// A plain message right after /calendar carries the link.
	if user != nil && b.isAwaitingURL(chatID) {
		b.setAwaitingURL(chatID, false)
		b.setCalendarURL(ctx, chatID, user, text)
		return
	}

	b.SendMessage(chatID, "I only understand commands. /help for the list")
}

// syncUserDetails refreshes stored contact data when Telegram reports a
// change; users rename themselves and the stored name goes stale.
func (b *Bot) syncUserDetails(ctx context.Context, user *domain.User, from *tgbotapi.User) {
	if from == nil {
		return
	}
	if user.Username == from.UserName && user.Firstname == from.FirstName && user.Lastname == from.LastName {
		return
	}

	if err := b.storage.UpdateUserDetails(ctx, user.ID, user.ChatID, from.UserName, from.FirstName, from.LastName); err != nil {
		log.Printf("Error updating details for user %s: %v", user.ID, err)
		return
	}
	user.Username = from.UserName
	user.Firstname = from.FirstName
	user.Lastname = from.LastName
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	if user == nil && msg.Command() != "start" && msg.Command() != "help" {
		b.SendMessage(chatID, "Start with /start first")
		return
	}

	switch msg.Command() {
	case "start":
		b.cmdStart(ctx, msg)
	case "help":
		b.cmdHelp(chatID)
	case "calendar":
		b.cmdCalendar(ctx, chatID, user, args)
	case "refresh":
		b.cmdRefresh(ctx, chatID, user)
	case "today":
		b.cmdToday(chatID, user)
	case "notify":
		b.cmdNotify(ctx, chatID, user, args)
	case "timezone":
		b.cmdTimezone(ctx, chatID, user, args)
	case "language":
		b.cmdLanguage(ctx, chatID, user, args)
	case "info":
		b.cmdInfo(ctx, chatID, user)
	case "remove":
		b.cmdRemove(ctx, chatID, user)
	default:
		b.SendMessage(chatID, "Unknown command. /help for the list")
	}
}

func (b *Bot) cmdStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	user, _ := b.storage.GetUserByChatID(ctx, chatID)
	if user != nil {
		b.SendMessage(chatID, fmt.Sprintf("👋 Welcome back, %s!", user.Firstname))
		return
	}

	newUser := &domain.User{
		ChatID:        chatID,
		Username:      msg.From.UserName,
		Firstname:     msg.From.FirstName,
		Lastname:      msg.From.LastName,
		Culture:       "en",
		NotifyMinutes: domain.DefaultNotifyMinutes,
	}

	if err := b.storage.CreateUser(ctx, newUser); err != nil {
		log.Printf("Error registering user for chat %d: %v", chatID, err)
		b.SendMessage(chatID, "❌ Registration failed, try again later")
		return
	}

	b.SendMessage(chatID, fmt.Sprintf(
		"👋 Hi, %s!\n\nI watch your calendar and remind you about upcoming events.\n\nSend /calendar with a link to an .ics feed to begin.",
		newUser.Firstname))
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `<b>Commands:</b>

/calendar URL — subscribe to a calendar link
/refresh — re-download the calendar now
/today — upcoming events
/notify N — notify N minutes before an event (2–1440)
/timezone H — timezone offset in hours (e.g. 3 or -5)
/language L — interface language (en, ru)
/info — current settings
/remove — drop the calendar subscription`

	b.SendMessage(chatID, text)
}

// externalUserID matches calendar links exported by the external
// provisioning system; the captured id lets that system trigger refreshes
// through the HTTP API (/api/calendar/update/externalUser/{id}).
var externalUserID = regexp.MustCompile(`user/(\d{1,8})/calendar`)

func externalIDFromURL(url string) string {
	if m := externalUserID.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

func (b *Bot) cmdCalendar(ctx context.Context, chatID int64, user *domain.User, args string) {
	if args == "" {
		b.setAwaitingURL(chatID, true)
		b.SendMessage(chatID, "Send me the calendar link (an .ics URL)")
		return
	}
	b.setCalendarURL(ctx, chatID, user, args)
}

func (b *Bot) setCalendarURL(ctx context.Context, chatID int64, user *domain.User, url string) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		b.SendMessage(chatID, "That doesn't look like a link. Send an http(s) URL to an .ics feed")
		return
	}

	cal := &domain.Calendar{UserID: user.ID, ExternalID: externalIDFromURL(url), URL: url}
	if err := b.storage.UpsertCalendar(ctx, cal); err != nil {
		log.Printf("Error saving calendar for user %s: %v", user.ID, err)
		b.SendMessage(chatID, "❌ Could not save the calendar, try again later")
		return
	}

	// First download happens right away so the user sees whether the link
	// works. Forced: the upsert just bumped modified_at, which would trip
	// the interactive cooldown.
	if err := b.refresh.RefreshUser(ctx, user.ID, true); err != nil {
		b.reportRefreshError(chatID, user, err)
		return
	}

	b.SendMessage(chatID, "✅ Calendar saved and downloaded. /today to see what's coming")
}

func (b *Bot) cmdRefresh(ctx context.Context, chatID int64, user *domain.User) {
	if err := b.refresh.RefreshUser(ctx, user.ID, false); err != nil {
		b.reportRefreshError(chatID, user, err)
		return
	}
	b.SendMessage(chatID, "✅ Calendar is up to date")
}

func (b *Bot) reportRefreshError(chatID int64, user *domain.User, err error) {
	var parseErr *domain.ParseError
	switch {
	case errors.Is(err, domain.ErrCalendarNotFound):
		b.SendMessage(chatID, "No calendar is linked yet. /calendar to add one")
	case errors.Is(err, domain.ErrRefreshCooldown):
		b.SendMessage(chatID, "⏳ The calendar was refreshed less than 5 minutes ago, try again later")
	case errors.As(err, &parseErr):
		b.SendMessage(chatID, "❌ The feed could not be parsed — check that the link points to an .ics file")
	default:
		log.Printf("Error refreshing calendar for user %s: %v", user.ID, err)
		b.SendMessage(chatID, "❌ Could not download the calendar, try again later")
	}
}

func (b *Bot) cmdToday(chatID int64, user *domain.User) {
	occurrences := b.calendars.TodayEvents(user.ID)
	b.SendMessage(chatID, service.FormatTodayList(user, occurrences))
}

func (b *Bot) cmdNotify(ctx context.Context, chatID int64, user *domain.User, args string) {
	minutes, err := strconv.Atoi(args)
	if err != nil || !domain.ValidNotifyMinutes(minutes) {
		b.SendMessage(chatID, fmt.Sprintf("Usage: /notify N where N is %d–%d minutes",
			domain.MinNotifyMinutes, domain.MaxNotifyMinutes))
		return
	}

	if err := b.storage.UpdateUserNotifyMinutes(ctx, user.ID, minutes); err != nil {
		log.Printf("Error updating notify minutes for user %s: %v", user.ID, err)
		b.SendMessage(chatID, "❌ Could not save the setting")
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("🔔 You'll be notified %d minutes before each event", minutes))
}

func (b *Bot) cmdTimezone(ctx context.Context, chatID int64, user *domain.User, args string) {
	offset, err := strconv.Atoi(args)
	if err != nil || offset < -12 || offset > 14 {
		b.SendMessage(chatID, "Usage: /timezone H where H is the GMT offset, e.g. 3 or -5")
		return
	}

	if err := b.storage.UpdateUserTimeZone(ctx, user.ID, offset); err != nil {
		log.Printf("Error updating timezone for user %s: %v", user.ID, err)
		b.SendMessage(chatID, "❌ Could not save the setting")
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("🌍 Timezone set to GMT%+d", offset))
}

func (b *Bot) cmdLanguage(ctx context.Context, chatID int64, user *domain.User, args string) {
	culture := strings.ToLower(args)
	if !domain.ValidCulture(culture) {
		b.SendMessage(chatID, fmt.Sprintf("Usage: /language L where L is one of: %s",
			strings.Join(domain.SupportedCultures, ", ")))
		return
	}

	if err := b.storage.UpdateUserCulture(ctx, user.ID, culture); err != nil {
		log.Printf("Error updating culture for user %s: %v", user.ID, err)
		b.SendMessage(chatID, "❌ Could not save the setting")
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("🗣 Language set to %s", culture))
}

func (b *Bot) cmdInfo(ctx context.Context, chatID int64, user *domain.User) {
	cal, err := b.storage.GetCalendarByUserID(ctx, user.ID)
	if err != nil {
		log.Printf("Error loading calendar for user %s: %v", user.ID, err)
		return
	}

	text := fmt.Sprintf("<b>Settings</b>\n\n🌍 Timezone: GMT%+d\n🔔 Lead time: %d min\n",
		user.TimeZone, user.NotifyMinutes)
	if cal == nil {
		text += "📅 Calendar: not linked"
	} else {
		text += fmt.Sprintf("📅 Calendar: linked (updated %s)", cal.ModifiedAt.Format("02.01.2006 15:04"))
	}
	b.SendMessage(chatID, text)
}

func (b *Bot) cmdRemove(ctx context.Context, chatID int64, user *domain.User) {
	if err := b.storage.DeleteCalendar(ctx, user.ID); err != nil {
		log.Printf("Error removing calendar for user %s: %v", user.ID, err)
		b.SendMessage(chatID, "❌ Could not remove the calendar")
		return
	}
	b.SendMessage(chatID, "🗑 Calendar removed. /calendar to link a new one")
}
