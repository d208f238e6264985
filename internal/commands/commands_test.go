package commands_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"tasksync/internal/commands"
	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/task"
	"tasksync/internal/testutil"
)

// harness runs commands against a FakeService through a real Runtime.
type harness struct {
	fake *testutil.FakeService
	cfg  *config.Config
	rt   *commands.Runtime
}

func newHarness(t *testing.T, quiet bool) *harness {
	t.Helper()
	fake := testutil.NewFakeService()
	cfg := &config.Config{
		Dir:      t.TempDir(),
		Quiet:    quiet,
		Settings: config.DefaultSettings(),
	}
	factory := func(ctx context.Context, cfg *config.Config, holder *session.Holder, logger *slog.Logger) (service.Backend, error) {
		return fake, nil
	}
	rt := commands.NewRuntime(cfg, factory, nil)
	t.Cleanup(func() { rt.Close() })
	return &harness{fake: fake, cfg: cfg, rt: rt}
}

// signIn saves the fake's session and restores the engine from it, the way
// the dispatcher does before running a command that needs auth.
func (h *harness) signIn(t *testing.T) {
	t.Helper()
	if err := h.rt.Sessions.Save(h.fake.Session()); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if _, err := h.rt.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
}

func (h *harness) run(t *testing.T, cmd commands.Command, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	code = cmd.Run(context.Background(), h.rt, args, &outBuf, &errBuf)
	return outBuf.String(), errBuf.String(), code
}

// seed adds three tasks. Listed newest first they are:
// 1 Call mom, 2 Walk dog (done), 3 Buy milk.
func seed(fake *testutil.FakeService) {
	fake.AddTask("t1", "Buy milk", false)
	fake.AddTask("t2", "Walk dog", true)
	fake.AddTask("t3", "Call mom", false)
}

func expectOK(t *testing.T, stdout, stderr string, code int, want string) {
	t.Helper()
	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d (stderr %q)", exitcode.Success, code, stderr)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != want {
		t.Errorf("expected stdout %q, got %q", want, stdout)
	}
}

func expectFailure(t *testing.T, stdout, stderr string, code, wantCode int, wantErr string) {
	t.Helper()
	if code != wantCode {
		t.Errorf("expected exit code %d, got %d", wantCode, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout, got %q", stdout)
	}
	if stderr != wantErr {
		t.Errorf("expected stderr %q, got %q", wantErr, stderr)
	}
}

func titleOf(fake *testutil.FakeService, id string) (task.Task, bool) {
	for _, tk := range fake.Tasks() {
		if tk.ID == id {
			return tk, true
		}
	}
	return task.Task{}, false
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t, false)
	stdout, stderr, code := h.run(t, &commands.VersionCmd{})
	expectOK(t, stdout, stderr, code, "tasksync 0.1.0\n")
}

func TestHelpCommand(t *testing.T) {
	h := newHarness(t, false)
	stdout, stderr, code := h.run(t, &commands.HelpCmd{})
	if code != exitcode.Success || stderr != "" {
		t.Fatalf("unexpected result: code %d stderr %q", code, stderr)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Error("help output should contain 'Usage:'")
	}
	for _, name := range []string{"list", "add", "done", "edit", "rm", "watch", "signup", "login", "logout"} {
		if !strings.Contains(stdout, "tasksync "+name) {
			t.Errorf("help output should mention %q", name)
		}
	}
}

func TestListCommand_Golden(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.ListCmd{})
	if code != exitcode.Success || stderr != "" {
		t.Fatalf("unexpected result: code %d stderr %q", code, stderr)
	}
	testutil.GoldenString(t, "list_all", stdout)
}

func TestListCommand_FilterAndQueryGolden(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	cmd := &commands.ListCmd{}
	cmd.SetFilter("pending")
	cmd.SetQuery("MILK")
	stdout, stderr, code := h.run(t, cmd)
	if code != exitcode.Success || stderr != "" {
		t.Fatalf("unexpected result: code %d stderr %q", code, stderr)
	}
	testutil.GoldenString(t, "list_pending_milk", stdout)
}

func TestListCommand_Empty(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.ListCmd{})
	want := "0 total, 0 done, 0 pending (0%)\n------------\nno tasks found\n"
	expectOK(t, stdout, stderr, code, want)
}

func TestListCommand_EmptyQuiet(t *testing.T) {
	h := newHarness(t, true)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.ListCmd{})
	want := "0 total, 0 done, 0 pending (0%)\n------------\n"
	expectOK(t, stdout, stderr, code, want)
}

func TestListCommand_InvalidFilter(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t)

	cmd := &commands.ListCmd{}
	cmd.SetFilter("someday")
	stdout, stderr, code := h.run(t, cmd)
	expectFailure(t, stdout, stderr, code, exitcode.UserError, "error: unknown filter: someday\n")
}

func TestListCommand_UnexpectedArgument(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.ListCmd{}, "Shopping")
	expectFailure(t, stdout, stderr, code, exitcode.UserError, "error: unexpected argument: Shopping\n")
}

func TestStatsCommand(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.StatsCmd{})
	expectOK(t, stdout, stderr, code, "3 total, 1 done, 2 pending (33%)\n")
}

func TestAddCommand_Success(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.AddCmd{}, "Buy", "groceries")
	expectOK(t, stdout, stderr, code, "ok\n")

	tasks := h.fake.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Title != "Buy groceries" {
		t.Errorf("expected title 'Buy groceries', got %q", tasks[0].Title)
	}
}

func TestAddCommand_Quiet(t *testing.T) {
	h := newHarness(t, true)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.AddCmd{}, "Buy", "milk")
	expectOK(t, stdout, stderr, code, "")
}

func TestAddCommand_NoTitle(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.AddCmd{}, "  ")
	expectFailure(t, stdout, stderr, code, exitcode.UserError, "error: title required\n")
	if h.fake.CreateCalls != 0 {
		t.Errorf("blank title reached the store: %d create calls", h.fake.CreateCalls)
	}
}

func TestAddCommand_BackendError(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t)
	h.fake.CreateTaskErr = &task.StoreError{Op: "create task", Err: testutil.ErrBackend}

	stdout, stderr, code := h.run(t, &commands.AddCmd{}, "Buy milk")
	expectFailure(t, stdout, stderr, code, exitcode.BackendError,
		"error: backend error: create task: backend unavailable\n")
}

func TestDoneCommand_TogglesByPosition(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.DoneCmd{}, "2")
	expectOK(t, stdout, stderr, code, "ok\n")

	got, _ := titleOf(h.fake, "t2")
	if got.IsDone {
		t.Error("expected done task to be reopened")
	}
}

func TestDoneCommand_ByID(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.DoneCmd{}, "#t1")
	expectOK(t, stdout, stderr, code, "ok\n")

	got, _ := titleOf(h.fake, "t1")
	if !got.IsDone {
		t.Error("expected task t1 to be done")
	}
}

func TestDoneCommand_RefErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		code    int
		wantErr string
	}{
		{"no ref", nil, exitcode.UserError, "error: task reference required\n"},
		{"invalid", []string{"abc"}, exitcode.UserError, "error: invalid task reference: abc\n"},
		{"zero", []string{"0"}, exitcode.UserError, "error: task number out of range: 0\n"},
		{"out of range", []string{"5"}, exitcode.UserError, "error: task number out of range: 5\n"},
		{"unknown id", []string{"#nope"}, exitcode.UserError, "error: task not found: nope\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			seed(h.fake)
			h.signIn(t)

			stdout, stderr, code := h.run(t, &commands.DoneCmd{}, tt.args...)
			expectFailure(t, stdout, stderr, code, tt.code, tt.wantErr)
		})
	}
}

func TestRmCommand_Success(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.RmCmd{}, "1")
	expectOK(t, stdout, stderr, code, "ok\n")

	if _, ok := titleOf(h.fake, "t3"); ok {
		t.Error("expected task t3 to be deleted")
	}
	if n := len(h.fake.Tasks()); n != 2 {
		t.Errorf("expected 2 tasks left, got %d", n)
	}
}

func TestRmCommand_AlreadyGone(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)
	// Another client deleted the row after our listing.
	h.fake.DeleteTaskErr = &task.NotFoundError{ID: "t3"}

	stdout, stderr, code := h.run(t, &commands.RmCmd{}, "1")
	expectOK(t, stdout, stderr, code, "ok\n")
}

func TestEditCommand_Success(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.EditCmd{}, "3", "Buy", "oat", "milk")
	expectOK(t, stdout, stderr, code, "ok\n")

	got, _ := titleOf(h.fake, "t1")
	if got.Title != "Buy oat milk" {
		t.Errorf("expected renamed title, got %q", got.Title)
	}
}

func TestEditCommand_EmptyTitle(t *testing.T) {
	h := newHarness(t, false)
	seed(h.fake)
	h.signIn(t)

	stdout, stderr, code := h.run(t, &commands.EditCmd{}, "3")
	expectFailure(t, stdout, stderr, code, exitcode.UserError, "error: title required\n")
	if h.fake.UpdateCalls != 0 {
		t.Errorf("empty title reached the store: %d update calls", h.fake.UpdateCalls)
	}
}

func TestSignupCommand(t *testing.T) {
	h := newHarness(t, false)

	cmd := &commands.SignupCmd{}
	stdout, stderr, code := h.run(t, cmd, "new@example.com")
	expectFailure(t, stdout, stderr, code, exitcode.UserError,
		"error: password required (use --password or TASKSYNC_PASSWORD)\n")

	t.Setenv(commands.PasswordEnv, "hunter22")
	stdout, stderr, code = h.run(t, cmd, "new@example.com")
	expectOK(t, stdout, stderr, code, "signup done, now login\n")

	stdout, stderr, code = h.run(t, cmd, "new@example.com")
	expectFailure(t, stdout, stderr, code, exitcode.AuthError,
		"error: auth error: sign up: user already registered\n")
}

func TestSignupCommand_NoEmail(t *testing.T) {
	h := newHarness(t, false)
	stdout, stderr, code := h.run(t, &commands.SignupCmd{})
	expectFailure(t, stdout, stderr, code, exitcode.UserError, "error: email required\n")
}

func TestConfigCommand_InitAndShow(t *testing.T) {
	h := newHarness(t, false)
	cmd := &commands.ConfigCmd{}

	stdout, stderr, code := h.run(t, cmd, "init")
	expectOK(t, stdout, stderr, code, "wrote "+h.cfg.SettingsPath()+"\n")

	_, stderr, code = h.run(t, cmd, "init")
	if code != exitcode.UserError || !strings.Contains(stderr, "already exists") {
		t.Errorf("expected refusal to overwrite, got code %d stderr %q", code, stderr)
	}

	loaded, err := config.LoadSettings(h.cfg.SettingsPath())
	if err != nil {
		t.Fatalf("load written settings: %v", err)
	}
	if loaded != config.DefaultSettings() {
		t.Errorf("written settings differ from defaults: %+v", loaded)
	}

	stdout, _, code = h.run(t, cmd, "show")
	if code != exitcode.Success || !strings.Contains(stdout, "store_url:     http://localhost:8787") {
		t.Errorf("unexpected show output (code %d): %q", code, stdout)
	}

	_, stderr, code = h.run(t, cmd, "frobnicate")
	expectFailure(t, "", stderr, code, exitcode.UserError, "error: unknown config action: frobnicate\n")
}

func TestCommands_NotSignedIn(t *testing.T) {
	h := newHarness(t, false)
	// The engine exists but no session was restored.
	if _, err := h.rt.Engine(context.Background()); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, code := h.run(t, &commands.AddCmd{}, "Buy milk")
	expectFailure(t, stdout, stderr, code, exitcode.AuthError, "error: auth error: not signed in\n")
}

func TestRuntime_RestoreWithoutSession(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.rt.Restore(context.Background())
	if !errors.Is(err, commands.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestFail(t *testing.T) {
	tests := []struct {
		err  error
		code int
		want string
	}{
		{&task.ValidationError{Msg: "bad"}, exitcode.UserError, "error: bad\n"},
		{&task.AuthError{Op: "sign in", Err: errors.New("nope")}, exitcode.AuthError, "error: auth error: sign in: nope\n"},
		{&task.StoreError{Op: "list tasks", Err: errors.New("down")}, exitcode.BackendError, "error: backend error: list tasks: down\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if code := commands.Fail(&buf, tt.err); code != tt.code {
			t.Errorf("Fail(%v) = %d, want %d", tt.err, code, tt.code)
		}
		if buf.String() != tt.want {
			t.Errorf("Fail(%v) printed %q, want %q", tt.err, buf.String(), tt.want)
		}
	}
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, buf *syncBuffer, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output %q", substr, buf.String())
}

func TestWatchCommand_RerendersOnChange(t *testing.T) {
	h := newHarness(t, false)
	h.fake.AddTask("t1", "Buy milk", false)
	h.signIn(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out, errOut syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- (&commands.WatchCmd{}).Run(ctx, h.rt, nil, &out, &errOut)
	}()

	waitFor(t, &out, "   1  [ ] Buy milk\n")

	// Another client adds a task; the change stream drives a new frame.
	if _, err := h.fake.CreateTask(context.Background(), "Walk cat"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, &out, "2 total, 0 done, 2 pending (0%)")
	waitFor(t, &out, "   1  [ ] Walk cat\n   2  [ ] Buy milk\n")

	cancel()
	select {
	case code := <-done:
		if code != exitcode.Success {
			t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
	if errOut.String() != "" {
		t.Errorf("expected no stderr, got %q", errOut.String())
	}
}

func TestWatchCommand_StopsWhenSessionEnds(t *testing.T) {
	h := newHarness(t, false)
	h.signIn(t)

	var out, errOut syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- (&commands.WatchCmd{}).Run(context.Background(), h.rt, nil, &out, &errOut)
	}()
	waitFor(t, &out, "no tasks found")

	h.rt.Holder.Clear(session.Invalidated)

	select {
	case code := <-done:
		if code != exitcode.AuthError {
			t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after the session ended")
	}
}
