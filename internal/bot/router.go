// Package bot routes inbound Telegram updates to time-tracking actions.
// The Router is built once at startup with its collaborators injected; no
// package-level state.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/togglbot/internal/domain"
	"github.com/pbaille/togglbot/internal/telegram"
	"github.com/pbaille/togglbot/internal/toggl"
)

// Messenger is the slice of the Telegram client the router uses.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string) error
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// Classifier infers intents from user text.
type Classifier interface {
	Classify(ctx context.Context, text string) domain.Intent
	Configured() bool
}

// Transcriber converts voice audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TimeTracker is the slice of the Toggl client the router uses.
type TimeTracker interface {
	Workspace(ctx context.Context) (int64, error)
	Clients(ctx context.Context, workspaceID int64) ([]toggl.Client, error)
	Projects(ctx context.Context, workspaceID int64, clientID *int64) ([]toggl.Project, error)
	StartEntry(ctx context.Context, description string, projectID int64) (*toggl.TimeEntry, error)
	StopActiveEntry(ctx context.Context) (*toggl.TimeEntry, error)
	CreatePastEntry(ctx context.Context, description string, durationSeconds int64, projectID int64, startTime *time.Time) (*toggl.TimeEntry, error)
}

// Reply texts.
const (
	greeting          = "Hi! I am your Personal Assistant Bot. How can I help you today?"
	nluDisabled       = "Gemini features are disabled. Please provide a GEMINI_API_KEY to enable smart processing."
	selectProjectHint = "Please select a project first using /toggl_clients."
	needDurationHint  = "I need a duration to add a time entry. E.g., 'add 30 minutes for meeting'."
	noActiveTimer     = "No active Toggl timer found to stop."
	statusPlaceholder = "Toggl status check is not yet fully implemented. I can tell you if a timer is running here."
	processingVoice   = "Processing your voice message..."
)

// Router dispatches updates to handlers and formats replies.
type Router struct {
	msgr        Messenger
	tracker     TimeTracker
	classifier  Classifier
	transcriber Transcriber
	sessions    *Sessions
	log         *slog.Logger
}

// NewRouter wires a Router from its collaborators.
func NewRouter(msgr Messenger, tracker TimeTracker, clf Classifier, tr Transcriber, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		msgr:        msgr,
		tracker:     tracker,
		classifier:  clf,
		transcriber: tr,
		sessions:    NewSessions(),
		log:         log,
	}
}

// Sessions exposes the session store (used by tests).
func (r *Router) Sessions() *Sessions {
	return r.sessions
}

// HandleUpdate processes one inbound update to completion. Failures are
// rendered as chat replies and logged; nothing here aborts the webhook.
func (r *Router) HandleUpdate(ctx context.Context, upd telegram.Update) {
	switch {
	case upd.CallbackQuery != nil:
		r.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		r.handleMessage(ctx, upd.Message)
	default:
		r.log.Debug("update carried nothing to handle", "update_id", upd.UpdateID)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *telegram.Message) {
	chatID := msg.Chat.ID

	switch {
	case msg.Voice != nil:
		r.handleVoice(ctx, chatID, msg.Voice)
	case strings.HasPrefix(msg.Text, "/start"):
		r.reply(ctx, chatID, greeting)
	case strings.HasPrefix(msg.Text, "/toggl_clients"):
		r.handleClientsCommand(ctx, chatID)
	case strings.HasPrefix(msg.Text, "/"):
		r.log.Debug("ignoring unknown command", "chat_id", chatID, "text", msg.Text)
	case msg.Text != "":
		r.handleText(ctx, chatID, msg.Text)
	}
}

// handleText classifies free-form text and performs the resulting action.
func (r *Router) handleText(ctx context.Context, chatID int64, text string) {
	if !r.classifier.Configured() {
		r.reply(ctx, chatID, nluDisabled)
		return
	}
	r.dispatchIntent(ctx, chatID, text)
}

func (r *Router) dispatchIntent(ctx context.Context, chatID int64, text string) {
	intent := r.classifier.Classify(ctx, text)
	r.sessions.Update(chatID, func(s *Session) {
		s.LastIntent = &intent
	})
	if intent.Err != "" {
		r.log.Warn("classification failed", "chat_id", chatID, "error", intent.Err)
	}

	description := intent.Description
	if description == "" {
		description = text
	}
	sess := r.sessions.Snapshot(chatID)

	switch intent.Action {
	case domain.ActionStartTimer:
		if sess.SelectedProjectID == nil {
			r.reply(ctx, chatID, selectProjectHint)
			return
		}
		projectID := *sess.SelectedProjectID
		if _, err := r.tracker.StartEntry(ctx, description, projectID); err != nil {
			r.reply(ctx, chatID, renderTogglError(err))
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf("Started Toggl timer for '%s' on project ID %d.", description, projectID))

	case domain.ActionAddEntry:
		if sess.SelectedProjectID == nil {
			r.reply(ctx, chatID, selectProjectHint)
			return
		}
		if intent.DurationSeconds == nil {
			r.reply(ctx, chatID, needDurationHint)
			return
		}
		projectID := *sess.SelectedProjectID
		duration := *intent.DurationSeconds
		if _, err := r.tracker.CreatePastEntry(ctx, description, duration, projectID, nil); err != nil {
			r.reply(ctx, chatID, renderTogglError(err))
			return
		}
		r.reply(ctx, chatID, fmt.Sprintf("Added Toggl entry for '%s' (%g minutes) on project ID %d.",
			description, float64(duration)/60, projectID))

	case domain.ActionStopTimer:
		stopped, err := r.tracker.StopActiveEntry(ctx)
		if err != nil {
			r.reply(ctx, chatID, renderTogglError(err))
			return
		}
		if stopped == nil {
			r.reply(ctx, chatID, noActiveTimer)
			return
		}
		desc := stopped.Description
		if desc == "" {
			desc = "No description"
		}
		r.reply(ctx, chatID, fmt.Sprintf("Stopped active Toggl timer: '%s'.", desc))

	case domain.ActionGetStatus:
		r.reply(ctx, chatID, statusPlaceholder)

	case domain.ActionNone:
		r.reply(ctx, chatID, "I'm not sure how to handle that. Detected intent: "+intent.JSON())

	default:
		r.reply(ctx, chatID, fmt.Sprintf("Unknown action: %s. Detected intent: %s", intent.Action, intent.JSON()))
	}
}

// handleVoice downloads and transcribes a voice note, echoes the
// transcription, then runs the usual intent dispatch on it.
func (r *Router) handleVoice(ctx context.Context, chatID int64, voice *telegram.Voice) {
	if !r.classifier.Configured() {
		r.reply(ctx, chatID, "Gemini features are disabled. GEMINI_API_KEY might be missing.")
		return
	}

	r.reply(ctx, chatID, processingVoice)

	text, err := r.fetchTranscription(ctx, voice)
	if err != nil {
		r.log.Warn("voice processing failed", "chat_id", chatID, "error", err)
		r.reply(ctx, chatID, fmt.Sprintf("Failed to process voice message. Error: %v", err))
		return
	}

	r.reply(ctx, chatID, "Transcription: "+text)
	r.sessions.Update(chatID, func(s *Session) {
		s.LastTranscription = text
	})

	r.dispatchIntent(ctx, chatID, text)
}

func (r *Router) fetchTranscription(ctx context.Context, voice *telegram.Voice) (string, error) {
	file, err := r.msgr.GetFile(ctx, voice.FileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	audio, err := r.msgr.DownloadFile(ctx, file.FilePath)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	text, err := r.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return text, nil
}

// handleClientsCommand begins the client -> project selection flow.
func (r *Router) handleClientsCommand(ctx context.Context, chatID int64) {
	workspaceID, err := r.tracker.Workspace(ctx)
	if err != nil {
		r.log.Warn("fetching clients failed", "chat_id", chatID, "error", err)
		r.reply(ctx, chatID, fmt.Sprintf("Failed to fetch clients. Error: %v", err))
		return
	}

	clients, err := r.tracker.Clients(ctx, workspaceID)
	if err != nil {
		r.log.Warn("fetching clients failed", "chat_id", chatID, "error", err)
		r.reply(ctx, chatID, fmt.Sprintf("Failed to fetch clients. Error: %v", err))
		return
	}
	if len(clients) == 0 {
		r.reply(ctx, chatID, "No Toggl clients found.")
		return
	}

	rows := make([][]telegram.InlineKeyboardButton, 0, len(clients))
	for _, c := range clients {
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: c.Name, Data: fmt.Sprintf("client_%d", c.ID)},
		})
	}
	r.send(ctx, chatID, "Please choose a client:", &telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}

// handleCallback processes a button press. The press is acknowledged
// immediately, before any downstream call.
func (r *Router) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := r.msgr.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		r.log.Warn("answering callback failed", "callback_id", cb.ID, "error", err)
	}
	if cb.Message == nil {
		r.log.Warn("callback without originating message", "callback_id", cb.ID, "data", cb.Data)
		return
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	switch {
	case strings.HasPrefix(cb.Data, "client_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, "client_"), 10, 64)
		if err != nil {
			r.log.Warn("bad callback data", "data", cb.Data)
			return
		}
		r.selectClient(ctx, chatID, messageID, id)

	case strings.HasPrefix(cb.Data, "project_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, "project_"), 10, 64)
		if err != nil {
			r.log.Warn("bad callback data", "data", cb.Data)
			return
		}
		r.selectProject(ctx, chatID, messageID, id)

	default:
		r.log.Warn("unrecognized callback data", "data", cb.Data)
	}
}

// selectClient latches the client and presents its projects.
func (r *Router) selectClient(ctx context.Context, chatID, messageID, clientID int64) {
	r.sessions.Update(chatID, func(s *Session) {
		s.SelectedClientID = &clientID
	})

	workspaceID, err := r.tracker.Workspace(ctx)
	if err != nil {
		r.edit(ctx, chatID, messageID, fmt.Sprintf("Failed to fetch projects. Error: %v", err), nil)
		return
	}
	projects, err := r.tracker.Projects(ctx, workspaceID, &clientID)
	if err != nil {
		r.edit(ctx, chatID, messageID, fmt.Sprintf("Failed to fetch projects. Error: %v", err), nil)
		return
	}
	if len(projects) == 0 {
		r.edit(ctx, chatID, messageID, "No projects found for the selected client.", nil)
		return
	}

	rows := make([][]telegram.InlineKeyboardButton, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: p.Name, Data: fmt.Sprintf("project_%d", p.ID)},
		})
	}
	r.edit(ctx, chatID, messageID, "Please choose a project:", &telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}

// selectProject latches the project. A project selection without a prior
// client selection is accepted; the two latches are independent.
func (r *Router) selectProject(ctx context.Context, chatID, messageID, projectID int64) {
	r.sessions.Update(chatID, func(s *Session) {
		s.SelectedProjectID = &projectID
	})
	r.edit(ctx, chatID, messageID,
		fmt.Sprintf("Project selected: %d. Now you can start a timer or add an entry.", projectID), nil)
}

// renderTogglError maps a time-tracking failure to a user-facing reply.
func renderTogglError(err error) string {
	if errors.Is(err, toggl.ErrUnauthorized) {
		return fmt.Sprintf("Toggl API Error: %v. Please ensure your TOGGL_API_KEY is correct.", err)
	}
	return fmt.Sprintf("An error occurred while performing the Toggl action: %v", err)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	r.send(ctx, chatID, text, nil)
}

func (r *Router) send(ctx context.Context, chatID int64, text string, kb *telegram.InlineKeyboardMarkup) {
	if _, err := r.msgr.SendMessage(ctx, chatID, text, kb); err != nil {
		r.log.Error("sending reply failed", "chat_id", chatID, "error", err)
	}
}

func (r *Router) edit(ctx context.Context, chatID, messageID int64, text string, kb *telegram.InlineKeyboardMarkup) {
	if err := r.msgr.EditMessageText(ctx, chatID, messageID, text, kb); err != nil {
		r.log.Error("editing message failed", "chat_id", chatID, "error", err)
	}
}
