package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-nutrition-bot/internal/estimate"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/raine/telegram-nutrition-bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testAdminID = int64(1)

const validSampleJSON = `{"foodName":"炒飯","portionSize":"一盤約 350 克","calories":510,"protein":12.4,"carbs":68,"fat":18.2,"fiber":2.1,"sugar":3.5,"confidence":82}`

type botApiMock struct {
	mock.Mock
}

func (m *botApiMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *botApiMock) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func (m *botApiMock) GetFileDirectURL(fileID string) (string, error) {
	args := m.Called(fileID)
	return args.Get(0).(string), args.Error(1)
}

// stubClient answers every call with the same response.
type stubClient struct {
	raw string
	err error
}

func (c *stubClient) Invoke(ctx context.Context, prompt string, image nutrition.Image) (string, error) {
	return c.raw, c.err
}

// fakeClients hands out one client regardless of credential.
type fakeClients struct {
	mu        sync.Mutex
	client    estimate.InferenceClient
	err       error
	requested []string
	forgotten []string
}

func (f *fakeClients) ClientFor(ctx context.Context, credential string) (estimate.InferenceClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, credential)
	return f.client, f.err
}

func (f *fakeClients) Forget(credential string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, credential)
}

func makeMessage(userId int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(userId, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return msg
}

func makeUpdateWithMessageText(userId int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 5,
			From:      &tgbotapi.User{ID: userId},
			Chat:      &tgbotapi.Chat{ID: userId},
			Text:      text,
		},
	}
}

func makePhotoUpdate(userId int64, fileID string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 6,
			From:      &tgbotapi.User{ID: userId},
			Chat:      &tgbotapi.Chat{ID: userId},
			Photo: []tgbotapi.PhotoSize{
				{FileID: fileID + "-small", Width: 90, Height: 90},
				{FileID: fileID, Width: 1280, Height: 960},
			},
		},
	}
}

func makeCallbackUpdate(userId int64, data string, messageID int) tgbotapi.Update {
	return tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb",
			From: &tgbotapi.User{ID: userId},
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: messageID,
				Chat:      &tgbotapi.Chat{ID: userId},
			},
		},
	}
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	key, err := storage.DeriveKey("bot-test-passphrase")
	require.NoError(t, err)
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "bot.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newImageServer serves a JPEG for any file path.
func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpegBytes)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func setup(t *testing.T, clients *fakeClients) (int64, *botApiMock, *Bot, *storage.SQLiteStore) {
	t.Helper()
	tg := new(botApiMock)
	store := newTestStore(t)
	b := NewBot(tg, store, clients, Config{AdminID: testAdminID})
	t.Cleanup(b.Shutdown)
	return testAdminID, tg, b, store
}

func expectBackgroundRequests(tg *botApiMock) {
	tg.On("Request", mock.Anything).Return(&tgbotapi.APIResponse{Ok: true}, nil).Maybe()
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestHandleUpdate_NotAllowedUserIsDropped(t *testing.T) {
	_, tg, b, _ := setup(t, &fakeClients{})

	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(999, "/start"))

	tg.AssertNotCalled(t, "Send", mock.Anything)
	assert.Empty(t, b.state.sessions)
}

func TestHandleUpdate_AllowedUserStart(t *testing.T) {
	_, tg, b, store := setup(t, &fakeClients{})
	require.NoError(t, store.AddAllowedUser(42, testAdminID))

	tg.On("Send", makeMessage(42, MsgStartPrompt)).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(42, "/start"))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_UnknownTextPromptsForPhoto(t *testing.T) {
	userId, tg, b, _ := setup(t, &fakeClients{})

	tg.On("Send", makeMessage(userId, MsgStartPrompt)).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "hello"))
	tg.AssertExpectations(t)
}

func TestPhotoAnalysis_RecordsAndShowsResult(t *testing.T) {
	clients := &fakeClients{client: &stubClient{raw: validSampleJSON}}
	userId, tg, b, _ := setup(t, clients)
	ts := newImageServer(t)
	expectBackgroundRequests(tg)

	tg.On("GetFileDirectURL", "photo-1").Return(ts.URL+"/photo-1.jpg", nil).Once()
	tg.On("Send", makeMessage(userId, MsgAnalyzing)).Return(tgbotapi.Message{MessageID: 77}, nil).Once()

	done := make(chan struct{})
	var resultMsg tgbotapi.MessageConfig
	tg.On("Send", mock.MatchedBy(func(msg tgbotapi.MessageConfig) bool {
		return strings.Contains(msg.Text, "炒飯")
	})).Run(func(args mock.Arguments) {
		resultMsg = args.Get(0).(tgbotapi.MessageConfig)
		close(done)
	}).Return(tgbotapi.Message{MessageID: 78}, nil).Once()

	b.handleUpdateSync(context.Background(), makePhotoUpdate(userId, "photo-1"))
	waitFor(t, done)

	assert.Contains(t, resultMsg.Text, "510 kcal")
	assert.Contains(t, resultMsg.Text, "蛋白質：12.4g")
	assert.Contains(t, resultMsg.Text, "信心度：82%")
	keyboard, ok := resultMsg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.InlineKeyboard, 1)
	assert.Len(t, keyboard.InlineKeyboard[0], len(portionSteps))

	session, err := b.state.getUserSession(userId)
	require.NoError(t, err)
	entries := session.history.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "炒飯", entries[0].FoodName)
	assert.Equal(t, 1, entries[0].SampleCount)
	assert.Equal(t, "photo-1", entries[0].Image.Ref)
	assert.Equal(t, "image/jpeg", entries[0].Image.MIMEType)
	assert.False(t, session.IsAnalyzing())

	// Progress message is removed once the result is in
	tg.AssertCalled(t, "Request", tgbotapi.NewDeleteMessage(userId, 77))
	assert.Equal(t, []string{""}, clients.requested)

	// Portion buttons edit the message without touching the stored result
	tg.On("Send", mock.MatchedBy(func(edit tgbotapi.EditMessageTextConfig) bool {
		return edit.MessageID == 78 &&
			strings.Contains(edit.Text, "638 kcal") &&
			strings.Contains(edit.Text, "125%")
	})).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makeCallbackUpdate(userId, portionCallbackData(entries[0].ID, 125), 78))
	tg.AssertExpectations(t)

	stored, ok := session.history.Get(entries[0].ID)
	require.True(t, ok)
	assert.Equal(t, 510, stored.Calories)
}

func TestPhotoAnalysis_MultiSampleProgress(t *testing.T) {
	clients := &fakeClients{client: &stubClient{raw: validSampleJSON}}
	userId, tg, b, store := setup(t, clients)
	require.NoError(t, store.SaveSettings(&storage.UserSettings{TelegramID: userId, MultiSample: true}))
	ts := newImageServer(t)
	expectBackgroundRequests(tg)

	tg.On("GetFileDirectURL", "photo-2").Return(ts.URL+"/photo-2.jpg", nil).Once()
	tg.On("Send", makeMessage(userId, fmt.Sprintf(MsgAnalyzingSamples, 3))).Return(tgbotapi.Message{MessageID: 80}, nil).Once()

	done := make(chan struct{})
	tg.On("Send", mock.MatchedBy(func(msg tgbotapi.MessageConfig) bool {
		return strings.Contains(msg.Text, "3/3 次取樣平均")
	})).Run(func(args mock.Arguments) { close(done) }).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makePhotoUpdate(userId, "photo-2"))
	waitFor(t, done)
	tg.AssertExpectations(t)
}

func TestPhotoAnalysis_NotFood(t *testing.T) {
	clients := &fakeClients{client: &stubClient{raw: `{"error": "Not food detected"}`}}
	userId, tg, b, _ := setup(t, clients)
	ts := newImageServer(t)
	expectBackgroundRequests(tg)

	tg.On("GetFileDirectURL", "cat").Return(ts.URL+"/cat.jpg", nil).Once()
	tg.On("Send", makeMessage(userId, MsgAnalyzing)).Return(tgbotapi.Message{MessageID: 81}, nil).Once()

	done := make(chan struct{})
	tg.On("Send", makeMessage(userId, MsgNotFood)).
		Run(func(args mock.Arguments) { close(done) }).
		Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makePhotoUpdate(userId, "cat"))
	waitFor(t, done)
	tg.AssertExpectations(t)

	session, err := b.state.getUserSession(userId)
	require.NoError(t, err)
	assert.Equal(t, 0, session.history.Len())
}

func TestPhotoAnalysis_TransportFailureSuggestsRetry(t *testing.T) {
	clients := &fakeClients{client: &stubClient{err: fmt.Errorf("%w: connection reset", nutrition.ErrTransport)}}
	userId, tg, b, _ := setup(t, clients)
	ts := newImageServer(t)
	expectBackgroundRequests(tg)

	tg.On("GetFileDirectURL", "p").Return(ts.URL+"/p.jpg", nil).Once()
	tg.On("Send", makeMessage(userId, MsgAnalyzing)).Return(tgbotapi.Message{MessageID: 82}, nil).Once()

	done := make(chan struct{})
	tg.On("Send", makeMessage(userId, MsgTransientError)).
		Run(func(args mock.Arguments) { close(done) }).
		Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makePhotoUpdate(userId, "p"))
	waitFor(t, done)
	tg.AssertExpectations(t)
}

func TestPhotoAnalysis_NoCredential(t *testing.T) {
	clients := &fakeClients{err: fmt.Errorf("no api key configured: %w", nutrition.ErrAuth)}
	userId, tg, b, _ := setup(t, clients)
	ts := newImageServer(t)

	tg.On("GetFileDirectURL", "p").Return(ts.URL+"/p.jpg", nil).Once()
	tg.On("Send", makeMessage(userId, MsgAuthFailed)).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makePhotoUpdate(userId, "p"))
	tg.AssertExpectations(t)
}

func TestPhotoAnalysis_RejectsNonImage(t *testing.T) {
	userId, tg, b, _ := setup(t, &fakeClients{client: &stubClient{raw: validSampleJSON}})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.7 not an image"))
	}))
	defer ts.Close()

	update := makeUpdateWithMessageText(userId, "")
	update.Message.Document = &tgbotapi.Document{FileID: "doc", MimeType: "image/png"}

	tg.On("GetFileDirectURL", "doc").Return(ts.URL+"/doc", nil).Once()
	tg.On("Send", makeMessage(userId, MsgNotAnImage)).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), update)
	tg.AssertExpectations(t)
}

func TestPhotoAnalysis_BusySessionRejectsSecondPhoto(t *testing.T) {
	userId, tg, b, _ := setup(t, &fakeClients{client: &stubClient{raw: validSampleJSON}})
	session, err := b.state.getUserSession(userId)
	require.NoError(t, err)

	_, ok := session.beginAnalysis(func() {})
	require.True(t, ok)

	tg.On("Send", makeMessage(userId, MsgAnalysisBusy)).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makePhotoUpdate(userId, "second"))
	tg.AssertExpectations(t)
	tg.AssertNotCalled(t, "GetFileDirectURL", mock.Anything)
}

func TestCancel_DiscardsOutcome(t *testing.T) {
	userId, tg, b, _ := setup(t, &fakeClients{})
	expectBackgroundRequests(tg)
	session, err := b.state.getUserSession(userId)
	require.NoError(t, err)

	cancelled := false
	runID, ok := session.beginAnalysis(func() { cancelled = true })
	require.True(t, ok)
	session.setProgressMessage(runID, 90)

	tg.On("Send", makeMessage(userId, MsgAnalysisCancelled)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/cancel"))
	tg.AssertExpectations(t)
	assert.True(t, cancelled)
	tg.AssertCalled(t, "Request", tgbotapi.NewDeleteMessage(userId, 90))

	// The run finishing afterwards is ignored
	result := &nutrition.Result{ID: "late", FoodName: "麵", Calories: 400, SampleCount: 1}
	session.SendSync(SessionMessage{
		Type:     "analysis_complete",
		Ctx:      context.Background(),
		Analysis: &AnalysisOutcome{RunID: runID, Result: result},
	})
	assert.Equal(t, 0, session.history.Len())

	tg.On("Send", makeMessage(userId, MsgNoAnalysisInProgress)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/cancel"))
	tg.AssertExpectations(t)
}

func TestModeCommand(t *testing.T) {
	userId, tg, b, store := setup(t, &fakeClients{})

	tg.On("Send", makeMessage(userId, formatReplyText(MsgModeUpdated, MsgModeMulti))).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/mode multi"))
	tg.AssertExpectations(t)

	stored, err := store.GetSettings(userId)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.MultiSample)

	session, err := b.state.getUserSession(userId)
	require.NoError(t, err)
	assert.Equal(t, nutrition.MultiSampleCount, session.Settings().AnalysisConfig().SampleCount)
}

func TestModeCommand_ShowsKeyboard(t *testing.T) {
	userId, tg, b, _ := setup(t, &fakeClients{})

	tg.On("Send", mock.MatchedBy(func(msg tgbotapi.MessageConfig) bool {
		kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		return ok && msg.Text == MsgModePrompt && len(kb.InlineKeyboard[0]) == 2
	})).Return(tgbotapi.Message{}, nil).Once()

	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/mode"))
	tg.AssertExpectations(t)
}

func TestRefCallback(t *testing.T) {
	userId, tg, b, store := setup(t, &fakeClients{})
	expectBackgroundRequests(tg)

	tg.On("Send", makeMessage(userId, formatReplyText(MsgRefUpdated, "筷子"))).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeCallbackUpdate(userId, cbRef+"chopsticks", 12))
	tg.AssertExpectations(t)

	stored, err := store.GetSettings(userId)
	require.NoError(t, err)
	assert.Equal(t, nutrition.ReferenceChopsticks, stored.ReferenceObject)
}

func TestAPIKeyCommand(t *testing.T) {
	clients := &fakeClients{}
	userId, tg, b, store := setup(t, clients)
	expectBackgroundRequests(tg)

	tg.On("Send", makeMessage(userId, MsgAPIKeySaved)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/apikey AIza-user-key"))
	tg.AssertExpectations(t)
	tg.AssertCalled(t, "Request", tgbotapi.NewDeleteMessage(userId, 5))

	stored, err := store.GetSettings(userId)
	require.NoError(t, err)
	assert.Equal(t, "AIza-user-key", stored.APICredential)

	tg.On("Send", makeMessage(userId, MsgAPIKeyCleared)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/apikey clear"))
	tg.AssertExpectations(t)

	stored, err = store.GetSettings(userId)
	require.NoError(t, err)
	assert.Empty(t, stored.APICredential)
	assert.Equal(t, []string{"AIza-user-key"}, clients.forgotten)
}

func TestSettingsCommand(t *testing.T) {
	userId, tg, b, store := setup(t, &fakeClients{})
	require.NoError(t, store.SaveSettings(&storage.UserSettings{
		TelegramID:      userId,
		ReferenceObject: nutrition.ReferenceCoin,
		APICredential:   "k",
	}))

	tg.On("Send", makeMessage(userId, formatReplyText(MsgSettings, MsgModeSingle, "硬幣", MsgKeyOwn))).
		Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/settings"))
	tg.AssertExpectations(t)
}

func TestHistoryAndClear(t *testing.T) {
	userId, tg, b, _ := setup(t, &fakeClients{})
	expectBackgroundRequests(tg)

	tg.On("Send", makeMessage(userId, MsgHistoryEmpty)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/history"))
	tg.AssertExpectations(t)

	session, err := b.state.getUserSession(userId)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, session.history.Record(nutrition.Result{
			ID:          fmt.Sprintf("r%d", i),
			FoodName:    fmt.Sprintf("餐點%d", i),
			Calories:    300 + i,
			SampleCount: 1,
			Timestamp:   time.Now(),
		}))
	}

	tg.On("Send", mock.MatchedBy(func(msg tgbotapi.MessageConfig) bool {
		kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		return ok && len(kb.InlineKeyboard) == 3 &&
			*kb.InlineKeyboard[0][0].CallbackData == cbHistory+"r2"
	})).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/history"))
	tg.AssertExpectations(t)

	tg.On("Send", mock.MatchedBy(func(msg tgbotapi.MessageConfig) bool {
		return strings.Contains(msg.Text, "餐點1") && strings.Contains(msg.Text, "301 kcal")
	})).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeCallbackUpdate(userId, cbHistory+"r1", 20))
	tg.AssertExpectations(t)

	tg.On("Send", makeMessage(userId, MsgHistoryCleared)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/clear"))
	tg.AssertExpectations(t)
	assert.Equal(t, 0, session.history.Len())

	tg.On("Send", makeMessage(userId, MsgResultGone)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeCallbackUpdate(userId, portionCallbackData("r1", 150), 20))
	tg.AssertExpectations(t)
}

func TestAdminUsersCommand(t *testing.T) {
	userId, tg, b, store := setup(t, &fakeClients{})

	tg.On("Send", makeMessage(userId, formatReplyText(MsgAdminUserAdded, int64(555)))).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/admin users add 555"))
	tg.AssertExpectations(t)

	allowed, err := store.IsUserAllowed(555)
	require.NoError(t, err)
	assert.True(t, allowed)

	tg.On("Send", makeMessage(userId, MsgAdminUserInvalidID)).Return(tgbotapi.Message{}, nil).Once()
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(userId, "/admin users remove abc"))
	tg.AssertExpectations(t)

	// Whitelisted non-admins cannot manage users
	b.handleUpdateSync(context.Background(), makeUpdateWithMessageText(555, "/admin users add 777"))
	allowed, err = store.IsUserAllowed(777)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRegisterCommands(t *testing.T) {
	tg := new(botApiMock)
	tg.On("Request", mock.MatchedBy(func(c tgbotapi.SetMyCommandsConfig) bool {
		if len(c.Commands) != len(botCommands) {
			return false
		}
		for i, cmd := range c.Commands {
			if cmd.Command != botCommands[i].Name {
				return false
			}
		}
		return true
	})).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()

	RegisterCommands(tg)
	tg.AssertExpectations(t)
}
