package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pbaille/togglbot/internal/domain"
	"github.com/pbaille/togglbot/internal/telegram"
	"github.com/pbaille/togglbot/internal/toggl"
)

// fakeMessenger records outbound traffic.
type fakeMessenger struct {
	sent      []string
	keyboards []*telegram.InlineKeyboardMarkup
	edits     []string
	editKbs   []*telegram.InlineKeyboardMarkup
	acked     []string
	fileData  []byte
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ int64, text string, kb *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	f.sent = append(f.sent, text)
	f.keyboards = append(f.keyboards, kb)
	return &telegram.Message{MessageID: int64(len(f.sent))}, nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, _ int64, _ int64, text string, kb *telegram.InlineKeyboardMarkup) error {
	f.edits = append(f.edits, text)
	f.editKbs = append(f.editKbs, kb)
	return nil
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeMessenger) GetFile(_ context.Context, fileID string) (*telegram.File, error) {
	return &telegram.File{FileID: fileID, FilePath: "voice/" + fileID + ".oga"}, nil
}

func (f *fakeMessenger) DownloadFile(_ context.Context, _ string) ([]byte, error) {
	return f.fileData, nil
}

// fakeTracker counts calls and returns canned data.
type fakeTracker struct {
	clients  []toggl.Client
	projects []toggl.Project
	running  *toggl.TimeEntry

	startCalls  []startCall
	createCalls []createCall
	stopCalls   int
	err         error
}

type startCall struct {
	description string
	projectID   int64
}

type createCall struct {
	description string
	duration    int64
	projectID   int64
}

func (f *fakeTracker) Workspace(context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}

func (f *fakeTracker) Clients(context.Context, int64) ([]toggl.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.clients, nil
}

func (f *fakeTracker) Projects(_ context.Context, _ int64, clientID *int64) ([]toggl.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	if clientID == nil {
		return f.projects, nil
	}
	var out []toggl.Project
	for _, p := range f.projects {
		if p.ClientID != nil && *p.ClientID == *clientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeTracker) StartEntry(_ context.Context, description string, projectID int64) (*toggl.TimeEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.startCalls = append(f.startCalls, startCall{description, projectID})
	return &toggl.TimeEntry{ID: 1, Description: description}, nil
}

func (f *fakeTracker) StopActiveEntry(context.Context) (*toggl.TimeEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.stopCalls++
	return f.running, nil
}

func (f *fakeTracker) CreatePastEntry(_ context.Context, description string, durationSeconds int64, projectID int64, _ *time.Time) (*toggl.TimeEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.createCalls = append(f.createCalls, createCall{description, durationSeconds, projectID})
	return &toggl.TimeEntry{ID: 2, Description: description}, nil
}

// fakeClassifier returns a fixed intent.
type fakeClassifier struct {
	intent     domain.Intent
	configured bool
	classified []string
}

func (f *fakeClassifier) Classify(_ context.Context, text string) domain.Intent {
	f.classified = append(f.classified, text)
	in := f.intent
	in.RawText = text
	return in
}

func (f *fakeClassifier) Configured() bool { return f.configured }

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return f.text, f.err
}

func newTestRouter(clf *fakeClassifier, tracker *fakeTracker, tr *fakeTranscriber) (*Router, *fakeMessenger) {
	msgr := &fakeMessenger{fileData: []byte("ogg")}
	if tr == nil {
		tr = &fakeTranscriber{}
	}
	return NewRouter(msgr, tracker, clf, tr, nil), msgr
}

func textUpdate(chatID int64, text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{MessageID: 1, Chat: telegram.Chat{ID: chatID}, Text: text}}
}

func selectProject(r *Router, chatID, projectID int64) {
	r.Sessions().Update(chatID, func(s *Session) {
		s.SelectedProjectID = &projectID
	})
}

func TestStart_Greeting(t *testing.T) {
	r, msgr := newTestRouter(&fakeClassifier{configured: true}, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "/start"))

	if len(msgr.sent) != 1 || !strings.Contains(msgr.sent[0], "Personal Assistant Bot") {
		t.Fatalf("sent = %q, want greeting", msgr.sent)
	}
}

func TestText_ClassifierDisabled(t *testing.T) {
	clf := &fakeClassifier{configured: false}
	tracker := &fakeTracker{}
	r, msgr := newTestRouter(clf, tracker, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "Start a timer for coding"))

	if len(clf.classified) != 0 {
		t.Error("classification attempted with no credential")
	}
	if len(msgr.sent) != 1 || !strings.Contains(msgr.sent[0], "disabled") {
		t.Fatalf("sent = %q, want disabled notice", msgr.sent)
	}
}

func TestStartTimer_NoProjectSelected(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStartTimer, Description: "coding"}}
	tracker := &fakeTracker{}
	r, msgr := newTestRouter(clf, tracker, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "Start a timer for coding"))

	if len(tracker.startCalls) != 0 {
		t.Errorf("StartEntry called %d times, want 0", len(tracker.startCalls))
	}
	if len(msgr.sent) != 1 || !strings.Contains(msgr.sent[0], "select a project") {
		t.Fatalf("sent = %q, want project prompt", msgr.sent)
	}
}

func TestStartTimer_EndToEnd(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStartTimer, Description: "coding"}}
	tracker := &fakeTracker{}
	r, msgr := newTestRouter(clf, tracker, nil)
	selectProject(r, 1, 5)

	r.HandleUpdate(context.Background(), textUpdate(1, "Start a timer for coding"))

	if len(tracker.startCalls) != 1 {
		t.Fatalf("StartEntry called %d times, want exactly 1", len(tracker.startCalls))
	}
	if tracker.startCalls[0].description != "coding" || tracker.startCalls[0].projectID != 5 {
		t.Errorf("StartEntry(%q, %d), want (coding, 5)", tracker.startCalls[0].description, tracker.startCalls[0].projectID)
	}
	reply := msgr.sent[len(msgr.sent)-1]
	if !strings.Contains(reply, "coding") || !strings.Contains(reply, "5") {
		t.Errorf("reply = %q, want description and project id", reply)
	}

	sess := r.Sessions().Snapshot(1)
	if sess.LastIntent == nil || sess.LastIntent.Action != domain.ActionStartTimer {
		t.Errorf("LastIntent = %+v, want stored start_timer", sess.LastIntent)
	}
}

func TestStartTimer_DescriptionFallsBackToRawText(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStartTimer}}
	tracker := &fakeTracker{}
	r, _ := newTestRouter(clf, tracker, nil)
	selectProject(r, 1, 5)

	r.HandleUpdate(context.Background(), textUpdate(1, "timer please"))

	if len(tracker.startCalls) != 1 || tracker.startCalls[0].description != "timer please" {
		t.Fatalf("startCalls = %+v, want raw text description", tracker.startCalls)
	}
}

func TestAddEntry_MissingDuration(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionAddEntry, Description: "meeting prep"}}
	tracker := &fakeTracker{}
	r, msgr := newTestRouter(clf, tracker, nil)
	selectProject(r, 1, 5)

	r.HandleUpdate(context.Background(), textUpdate(1, "Add time for meeting prep"))

	if len(tracker.createCalls) != 0 {
		t.Errorf("CreatePastEntry called %d times, want 0", len(tracker.createCalls))
	}
	if !strings.Contains(msgr.sent[len(msgr.sent)-1], "duration") {
		t.Fatalf("sent = %q, want duration prompt", msgr.sent)
	}
}

func TestAddEntry_Success(t *testing.T) {
	duration := int64(1800)
	clf := &fakeClassifier{configured: true, intent: domain.Intent{
		Action: domain.ActionAddEntry, Description: "meeting prep", DurationSeconds: &duration,
	}}
	tracker := &fakeTracker{}
	r, msgr := newTestRouter(clf, tracker, nil)
	selectProject(r, 1, 5)

	r.HandleUpdate(context.Background(), textUpdate(1, "Add 30 minutes for meeting prep"))

	if len(tracker.createCalls) != 1 {
		t.Fatalf("createCalls = %+v, want 1", tracker.createCalls)
	}
	call := tracker.createCalls[0]
	if call.description != "meeting prep" || call.duration != 1800 || call.projectID != 5 {
		t.Errorf("CreatePastEntry(%+v)", call)
	}
	reply := msgr.sent[len(msgr.sent)-1]
	if !strings.Contains(reply, "30 minutes") {
		t.Errorf("reply = %q, want minutes rendered", reply)
	}
}

func TestStopTimer_NothingRunning(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStopTimer}}
	tracker := &fakeTracker{running: nil}
	r, msgr := newTestRouter(clf, tracker, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "Stop current task"))

	if tracker.stopCalls != 1 {
		t.Errorf("stopCalls = %d, want 1", tracker.stopCalls)
	}
	if !strings.Contains(msgr.sent[len(msgr.sent)-1], "No active Toggl timer") {
		t.Fatalf("sent = %q", msgr.sent)
	}
}

func TestStopTimer_StopsRunningEntry(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStopTimer}}
	tracker := &fakeTracker{running: &toggl.TimeEntry{ID: 7, Description: "deep work"}}
	r, msgr := newTestRouter(clf, tracker, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "Stop current task"))

	reply := msgr.sent[len(msgr.sent)-1]
	if !strings.Contains(reply, "deep work") {
		t.Errorf("reply = %q, want stopped description", reply)
	}
}

func TestStopTimer_NoDescriptionFallback(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStopTimer}}
	tracker := &fakeTracker{running: &toggl.TimeEntry{ID: 7}}
	r, msgr := newTestRouter(clf, tracker, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "Stop current task"))

	if !strings.Contains(msgr.sent[len(msgr.sent)-1], "No description") {
		t.Errorf("reply = %q, want fallback description", msgr.sent)
	}
}

func TestNoneAction_EchoesIntent(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionNone}}
	r, msgr := newTestRouter(clf, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "Remind me in 5 minutes"))

	reply := msgr.sent[len(msgr.sent)-1]
	if !strings.Contains(reply, "not sure how to handle") || !strings.Contains(reply, "Remind me in 5 minutes") {
		t.Errorf("reply = %q, want intent echoed", reply)
	}
}

func TestUnknownAction(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.Action("delete_everything")}}
	r, msgr := newTestRouter(clf, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "whatever"))

	if !strings.Contains(msgr.sent[len(msgr.sent)-1], "Unknown action: delete_everything") {
		t.Errorf("reply = %q", msgr.sent)
	}
}

func TestGetStatus_Placeholder(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionGetStatus}}
	r, msgr := newTestRouter(clf, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "What am I working on?"))

	if !strings.Contains(msgr.sent[len(msgr.sent)-1], "not yet fully implemented") {
		t.Errorf("reply = %q", msgr.sent)
	}
}

func TestTogglAuthError_SuggestsKeyCheck(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStartTimer, Description: "coding"}}
	tracker := &fakeTracker{err: &toggl.APIError{StatusCode: 403, Body: "Incorrect username"}}
	r, msgr := newTestRouter(clf, tracker, nil)
	selectProject(r, 1, 5)

	r.HandleUpdate(context.Background(), textUpdate(1, "Start a timer for coding"))

	reply := msgr.sent[len(msgr.sent)-1]
	if !strings.Contains(reply, "TOGGL_API_KEY") {
		t.Errorf("reply = %q, want key hint", reply)
	}
}

func TestTogglServerError_GenericMessage(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStartTimer, Description: "coding"}}
	tracker := &fakeTracker{err: &toggl.APIError{StatusCode: 502, Body: "upstream down"}}
	r, msgr := newTestRouter(clf, tracker, nil)
	selectProject(r, 1, 5)

	r.HandleUpdate(context.Background(), textUpdate(1, "Start a timer for coding"))

	reply := msgr.sent[len(msgr.sent)-1]
	if strings.Contains(reply, "TOGGL_API_KEY") {
		t.Errorf("reply = %q, 5xx should not hint at key", reply)
	}
	if !strings.Contains(reply, "An error occurred") {
		t.Errorf("reply = %q", reply)
	}
}

func TestClientsCommand_PresentsKeyboard(t *testing.T) {
	tracker := &fakeTracker{clients: []toggl.Client{{ID: 7, Name: "Acme"}, {ID: 9, Name: "Globex"}}}
	r, msgr := newTestRouter(&fakeClassifier{configured: true}, tracker, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "/toggl_clients"))

	if len(msgr.sent) != 1 || !strings.Contains(msgr.sent[0], "choose a client") {
		t.Fatalf("sent = %q", msgr.sent)
	}
	kb := msgr.keyboards[0]
	if kb == nil || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("keyboard = %+v, want two rows", kb)
	}
	if kb.InlineKeyboard[0][0].Data != "client_7" {
		t.Errorf("first button data = %q", kb.InlineKeyboard[0][0].Data)
	}
}

func TestClientsCommand_Empty(t *testing.T) {
	r, msgr := newTestRouter(&fakeClassifier{configured: true}, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "/toggl_clients"))

	if !strings.Contains(msgr.sent[0], "No Toggl clients found.") {
		t.Errorf("sent = %q", msgr.sent)
	}
}

func callbackUpdate(chatID int64, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		Message: &telegram.Message{MessageID: 3, Chat: telegram.Chat{ID: chatID}},
	}}
}

func TestClientCallback_LatchesAndShowsProjects(t *testing.T) {
	seven := int64(7)
	tracker := &fakeTracker{projects: []toggl.Project{
		{ID: 5, Name: "Website", ClientID: &seven},
		{ID: 6, Name: "Other", ClientID: ptr(int64(9))},
	}}
	r, msgr := newTestRouter(&fakeClassifier{configured: true}, tracker, nil)

	r.HandleUpdate(context.Background(), callbackUpdate(1, "client_7"))

	if len(msgr.acked) != 1 {
		t.Errorf("acked = %q, want callback acknowledged", msgr.acked)
	}
	sess := r.Sessions().Snapshot(1)
	if sess.SelectedClientID == nil || *sess.SelectedClientID != 7 {
		t.Errorf("SelectedClientID = %v, want 7", sess.SelectedClientID)
	}
	if len(msgr.edits) != 1 || !strings.Contains(msgr.edits[0], "choose a project") {
		t.Fatalf("edits = %q", msgr.edits)
	}
	kb := msgr.editKbs[0]
	if kb == nil || len(kb.InlineKeyboard) != 1 || kb.InlineKeyboard[0][0].Data != "project_5" {
		t.Errorf("keyboard = %+v, want only client 7's project", kb)
	}
}

func TestClientCallback_NoProjects(t *testing.T) {
	r, msgr := newTestRouter(&fakeClassifier{configured: true}, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), callbackUpdate(1, "client_7"))

	if len(msgr.edits) != 1 || !strings.Contains(msgr.edits[0], "No projects found") {
		t.Fatalf("edits = %q", msgr.edits)
	}
}

func TestProjectCallback_LatchesWithoutClient(t *testing.T) {
	r, msgr := newTestRouter(&fakeClassifier{configured: true}, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), callbackUpdate(1, "project_5"))

	sess := r.Sessions().Snapshot(1)
	if sess.SelectedProjectID == nil || *sess.SelectedProjectID != 5 {
		t.Errorf("SelectedProjectID = %v, want 5", sess.SelectedProjectID)
	}
	if sess.SelectedClientID != nil {
		t.Errorf("SelectedClientID = %v, want independent nil", sess.SelectedClientID)
	}
	if len(msgr.edits) != 1 || !strings.Contains(msgr.edits[0], "Project selected: 5") {
		t.Fatalf("edits = %q", msgr.edits)
	}
}

func TestSessions_IsolatedPerChat(t *testing.T) {
	r, _ := newTestRouter(&fakeClassifier{configured: true}, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), callbackUpdate(1, "project_5"))
	r.HandleUpdate(context.Background(), callbackUpdate(2, "project_9"))

	if got := r.Sessions().Snapshot(1).SelectedProjectID; got == nil || *got != 5 {
		t.Errorf("chat 1 project = %v, want 5", got)
	}
	if got := r.Sessions().Snapshot(2).SelectedProjectID; got == nil || *got != 9 {
		t.Errorf("chat 2 project = %v, want 9", got)
	}
}

func TestVoice_TranscribesAndDispatches(t *testing.T) {
	clf := &fakeClassifier{configured: true, intent: domain.Intent{Action: domain.ActionStartTimer, Description: "coding"}}
	tracker := &fakeTracker{}
	tr := &fakeTranscriber{text: "Start a timer for coding"}
	r, msgr := newTestRouter(clf, tracker, tr)
	selectProject(r, 1, 5)

	r.HandleUpdate(context.Background(), telegram.Update{Message: &telegram.Message{
		MessageID: 1,
		Chat:      telegram.Chat{ID: 1},
		Voice:     &telegram.Voice{FileID: "vf-1"},
	}})

	if len(msgr.sent) < 3 {
		t.Fatalf("sent = %q, want progress, transcription, result", msgr.sent)
	}
	if !strings.Contains(msgr.sent[0], "Processing your voice message") {
		t.Errorf("first reply = %q", msgr.sent[0])
	}
	if !strings.Contains(msgr.sent[1], "Transcription: Start a timer for coding") {
		t.Errorf("second reply = %q", msgr.sent[1])
	}
	if len(tracker.startCalls) != 1 {
		t.Errorf("startCalls = %+v, want dispatch from transcription", tracker.startCalls)
	}
	if got := r.Sessions().Snapshot(1).LastTranscription; got != "Start a timer for coding" {
		t.Errorf("LastTranscription = %q", got)
	}
	if len(clf.classified) != 1 || clf.classified[0] != "Start a timer for coding" {
		t.Errorf("classified = %q, want transcribed text", clf.classified)
	}
}

func TestVoice_DisabledWithoutCredential(t *testing.T) {
	r, msgr := newTestRouter(&fakeClassifier{configured: false}, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), telegram.Update{Message: &telegram.Message{
		Chat:  telegram.Chat{ID: 1},
		Voice: &telegram.Voice{FileID: "vf-1"},
	}})

	if len(msgr.sent) != 1 || !strings.Contains(msgr.sent[0], "disabled") {
		t.Fatalf("sent = %q, want disabled notice only", msgr.sent)
	}
}

func TestVoice_TranscriptionFailureSurfaced(t *testing.T) {
	tr := &fakeTranscriber{err: errorString("model unavailable")}
	r, msgr := newTestRouter(&fakeClassifier{configured: true}, &fakeTracker{}, tr)

	r.HandleUpdate(context.Background(), telegram.Update{Message: &telegram.Message{
		Chat:  telegram.Chat{ID: 1},
		Voice: &telegram.Voice{FileID: "vf-1"},
	}})

	last := msgr.sent[len(msgr.sent)-1]
	if !strings.Contains(last, "Failed to process voice message") || !strings.Contains(last, "model unavailable") {
		t.Fatalf("sent = %q", msgr.sent)
	}
}

func TestUnknownCommand_Ignored(t *testing.T) {
	clf := &fakeClassifier{configured: true}
	r, msgr := newTestRouter(clf, &fakeTracker{}, nil)

	r.HandleUpdate(context.Background(), textUpdate(1, "/unknown"))

	if len(msgr.sent) != 0 {
		t.Errorf("sent = %q, want nothing", msgr.sent)
	}
	if len(clf.classified) != 0 {
		t.Error("unknown command was classified")
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func ptr[T any](v T) *T { return &v }
