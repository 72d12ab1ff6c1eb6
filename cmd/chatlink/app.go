package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"

	"github.com/AbdelrhmanGamal26/chatlink/internal/api"
	"github.com/AbdelrhmanGamal26/chatlink/internal/di"
	"github.com/AbdelrhmanGamal26/chatlink/internal/notify"
	"github.com/AbdelrhmanGamal26/chatlink/internal/session"
)

const (
	pageLogin  = "login"
	pageSignup = "signup"
	pageForgot = "forgot"
	pageReset  = "reset"
	pageVerify = "verify"
	pageMain   = "main"
	pageNew    = "new-chat"
	pageDelete = "delete-account"
)

const requestTimeout = 15 * time.Second

// ui renders the terminal client. All tview mutations happen on the event
// loop; background goroutines hand work over via QueueUpdateDraw.
type ui struct {
	deps   *di.App
	logger logrus.FieldLogger

	app   *tview.Application
	pages *tview.Pages

	conversationList *tview.List
	messageView      *tview.TextView
	composer         *tview.InputField
	statusBar        *tview.TextView
}

func newUI(deps *di.App) *ui {
	return &ui{
		deps:   deps,
		logger: deps.Logger,
		app:    tview.NewApplication(),
	}
}

func (u *ui) run() error {
	u.pages = tview.NewPages()
	u.pages.AddPage(pageLogin, u.createLoginPage(), true, false)
	u.pages.AddPage(pageSignup, u.createSignupPage(), true, false)
	u.pages.AddPage(pageForgot, u.createForgotPage(), true, false)
	u.pages.AddPage(pageReset, u.createResetPage(), true, false)
	u.pages.AddPage(pageVerify, u.createVerifyPage(), true, false)
	u.pages.AddPage(pageMain, u.createMainView(), true, false)

	frame := tview.NewFrame(u.pages)
	frame.SetBorder(true)
	frame.SetTitle("chatlink")
	frame.SetTitleAlign(tview.AlignCenter)
	u.app.SetRoot(frame, true)

	if u.deps.Session.LoggedIn() {
		u.pages.SwitchToPage(pageMain)
		go u.startSession()
	} else {
		u.pages.SwitchToPage(pageLogin)
	}

	go u.watchNotices()
	go u.watchChat()
	go u.watchSession()

	return u.app.Run()
}

// startSession brings the realtime channel up for the logged-in user and
// loads the conversation list. Runs off the event loop.
func (u *ui) startSession() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := u.deps.Channel.Connect(ctx, u.deps.Session.Token()); err != nil {
		u.logger.WithError(err).Error("socket connect failed")
		u.deps.Notifier.Error("Realtime connection failed; messages arrive on refresh only.")
	} else if err := u.deps.Chat.Start(); err != nil {
		u.logger.WithError(err).Error("chat service start failed")
	}

	u.refreshConversations(ctx)
	u.app.QueueUpdateDraw(u.render)
}

func (u *ui) refreshConversations(ctx context.Context) {
	if _, err := u.deps.Chat.Conversations(ctx); err != nil {
		u.logger.WithError(err).Warn("loading conversations failed")
	}
}

func (u *ui) createLoginPage() tview.Primitive {
	form := tview.NewForm()
	form.AddInputField("Email", "", 40, nil, nil)
	form.AddPasswordField("Password", "", 40, '*', nil)
	form.AddButton("Log in", func() {
		email := form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
		passwd := form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
		go u.login(email, passwd)
	})
	form.AddButton("Sign up", func() { u.pages.SwitchToPage(pageSignup) })
	form.AddButton("Forgot password", func() { u.pages.SwitchToPage(pageForgot) })
	form.AddButton("Reset password", func() { u.pages.SwitchToPage(pageReset) })
	form.AddButton("Verify email", func() { u.pages.SwitchToPage(pageVerify) })
	form.SetBorder(true)
	form.SetTitle("Log in")
	form.SetTitleAlign(tview.AlignCenter)

	return center(form, 60, 13)
}

func (u *ui) login(email, passwd string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := u.deps.API.Login(ctx, email, passwd); err != nil {
		u.logger.WithError(err).Info("login failed")
		if msg, ok := api.ServerMessage(err); ok {
			u.deps.Notifier.Error(msg)
		} else {
			u.deps.Notifier.Error("Login failed.")
		}
		return
	}

	u.app.QueueUpdateDraw(func() { u.pages.SwitchToPage(pageMain) })
	u.startSession()
}

func (u *ui) createSignupPage() tview.Primitive {
	form := tview.NewForm()
	form.AddInputField("Name", "", 40, nil, nil)
	form.AddInputField("Email", "", 40, nil, nil)
	form.AddPasswordField("Password", "", 40, '*', nil)
	form.AddPasswordField("Confirm", "", 40, '*', nil)
	form.AddInputField("Photo path", "", 40, nil, nil)
	form.AddButton("Create account", func() {
		params := api.SignupParams{
			Name:            form.GetFormItemByLabel("Name").(*tview.InputField).GetText(),
			Email:           form.GetFormItemByLabel("Email").(*tview.InputField).GetText(),
			Password:        form.GetFormItemByLabel("Password").(*tview.InputField).GetText(),
			ConfirmPassword: form.GetFormItemByLabel("Confirm").(*tview.InputField).GetText(),
		}
		if path := form.GetFormItemByLabel("Photo path").(*tview.InputField).GetText(); path != "" {
			photo, err := os.ReadFile(path)
			if err != nil {
				u.deps.Notifier.Error("Could not read the photo file.")
				return
			}
			params.Photo = photo
			params.PhotoName = filepath.Base(path)
		}
		go u.signup(params)
	})
	form.AddButton("Back", func() { u.pages.SwitchToPage(pageLogin) })
	form.SetBorder(true)
	form.SetTitle("Sign up")
	form.SetTitleAlign(tview.AlignCenter)

	return center(form, 50, 17)
}

func (u *ui) signup(params api.SignupParams) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := u.deps.API.Signup(ctx, params); err != nil {
		u.logger.WithError(err).Info("signup failed")
		if msg, ok := api.ServerMessage(err); ok {
			u.deps.Notifier.Error(msg)
		} else {
			u.deps.Notifier.Error("Signup failed: " + err.Error())
		}
		return
	}

	u.deps.Notifier.Info("Account created. Check your email for the verification link.")
	u.app.QueueUpdateDraw(func() { u.pages.SwitchToPage(pageLogin) })
}

func (u *ui) createForgotPage() tview.Primitive {
	form := tview.NewForm()
	form.AddInputField("Email", "", 40, nil, nil)
	form.AddButton("Send reset link", func() {
		email := form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := u.deps.API.ForgotPassword(ctx, email); err != nil {
				if msg, ok := api.ServerMessage(err); ok {
					u.deps.Notifier.Error(msg)
				} else {
					u.deps.Notifier.Error("Could not send the reset link.")
				}
				return
			}
			u.deps.Notifier.Info("Reset link sent. Check your email.")
			u.app.QueueUpdateDraw(func() { u.pages.SwitchToPage(pageLogin) })
		}()
	})
	form.AddButton("Back", func() { u.pages.SwitchToPage(pageLogin) })
	form.SetBorder(true)
	form.SetTitle("Forgot password")
	form.SetTitleAlign(tview.AlignCenter)

	return center(form, 50, 9)
}

// createResetPage finishes the password reset started from a mailed link;
// the user pastes the token from that link.
func (u *ui) createResetPage() tview.Primitive {
	form := tview.NewForm()
	form.AddInputField("Reset token", "", 40, nil, nil)
	form.AddPasswordField("New password", "", 40, '*', nil)
	form.AddPasswordField("Confirm", "", 40, '*', nil)
	form.AddButton("Reset password", func() {
		token := form.GetFormItemByLabel("Reset token").(*tview.InputField).GetText()
		passwd := form.GetFormItemByLabel("New password").(*tview.InputField).GetText()
		confirm := form.GetFormItemByLabel("Confirm").(*tview.InputField).GetText()
		go u.resetPassword(token, passwd, confirm)
	})
	form.AddButton("Back", func() { u.pages.SwitchToPage(pageLogin) })
	form.SetBorder(true)
	form.SetTitle("Reset password")
	form.SetTitleAlign(tview.AlignCenter)

	return center(form, 54, 13)
}

func (u *ui) resetPassword(token, passwd, confirm string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	// The token is checked first so an expired link fails before the user's
	// new password is sent anywhere.
	if err := u.deps.API.VerifyResetToken(ctx, token); err != nil {
		u.logger.WithError(err).Info("reset token rejected")
		if msg, ok := api.ServerMessage(err); ok {
			u.deps.Notifier.Error(msg)
		} else {
			u.deps.Notifier.Error("Invalid or expired reset link.")
		}
		return
	}
	if err := u.deps.API.ResetPassword(ctx, token, passwd, confirm); err != nil {
		u.logger.WithError(err).Info("password reset failed")
		if msg, ok := api.ServerMessage(err); ok {
			u.deps.Notifier.Error(msg)
		} else {
			u.deps.Notifier.Error("Password reset failed.")
		}
		return
	}

	u.deps.Notifier.Info("Password reset. Log in with your new password.")
	u.app.QueueUpdateDraw(func() { u.pages.SwitchToPage(pageLogin) })
}

// createVerifyPage confirms a mailed verification token, or requests a new
// one for accounts whose link expired.
func (u *ui) createVerifyPage() tview.Primitive {
	form := tview.NewForm()
	form.AddInputField("Verification token", "", 40, nil, nil)
	form.AddInputField("Email", "", 40, nil, nil)
	form.AddButton("Verify", func() {
		token := form.GetFormItemByLabel("Verification token").(*tview.InputField).GetText()
		go u.verifyEmail(token)
	})
	form.AddButton("Resend link", func() {
		email := form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
		go u.resendVerification(email)
	})
	form.AddButton("Back", func() { u.pages.SwitchToPage(pageLogin) })
	form.SetBorder(true)
	form.SetTitle("Verify email")
	form.SetTitleAlign(tview.AlignCenter)

	return center(form, 54, 11)
}

func (u *ui) verifyEmail(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := u.deps.API.VerifyEmail(ctx, token); err != nil {
		u.logger.WithError(err).Info("email verification failed")
		if msg, ok := api.ServerMessage(err); ok {
			u.deps.Notifier.Error(msg)
		} else {
			u.deps.Notifier.Error("Invalid or expired verification link.")
		}
		return
	}

	u.deps.Notifier.Info("Email verified. You can log in now.")
	u.app.QueueUpdateDraw(func() { u.pages.SwitchToPage(pageLogin) })
}

func (u *ui) resendVerification(email string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := u.deps.API.ResendVerificationToken(ctx, email); err != nil {
		u.logger.WithError(err).Info("resending verification failed")
		if msg, ok := api.ServerMessage(err); ok {
			u.deps.Notifier.Error(msg)
		} else {
			u.deps.Notifier.Error("Could not resend the verification link.")
		}
		return
	}
	u.deps.Notifier.Info("Verification link sent. Check your email.")
}

func (u *ui) createMainView() tview.Primitive {
	u.conversationList = tview.NewList()
	u.conversationList.ShowSecondaryText(true)
	u.conversationList.SetBorder(true)
	u.conversationList.SetTitle("Conversations (n: new, Ctrl-L: logout, Ctrl-D: delete account)")

	u.messageView = tview.NewTextView()
	u.messageView.SetDynamicColors(true)
	u.messageView.SetBorder(true)
	u.messageView.SetTitle("Messages")

	u.composer = tview.NewInputField().SetLabel("Message: ")
	u.composer.SetFieldWidth(0)
	u.composer.SetBorder(true)
	u.composer.SetTitle("Compose (Enter: send, Esc: close conversation)")
	u.composer.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := u.composer.GetText()
			if text == "" {
				return
			}
			go u.send(text)
		case tcell.KeyEscape:
			u.deps.Chat.Close()
			u.app.SetFocus(u.conversationList)
		}
	})

	u.statusBar = tview.NewTextView()
	u.statusBar.SetDynamicColors(true)

	u.conversationList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		go u.openByIndex(index)
	})
	u.conversationList.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'n':
			u.showNewChatPrompt()
			return nil
		}
		switch event.Key() {
		case tcell.KeyCtrlL:
			go u.logout()
			return nil
		case tcell.KeyCtrlD:
			u.showDeleteAccountPrompt()
			return nil
		}
		return event
	})

	chatPane := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(u.messageView, 0, 1, false).
		AddItem(u.composer, 3, 0, false)

	body := tview.NewFlex().
		AddItem(u.conversationList, 0, 1, true).
		AddItem(chatPane, 0, 2, false)

	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(u.statusBar, 1, 0, false)
}

func (u *ui) showNewChatPrompt() {
	form := tview.NewForm()
	form.AddInputField("Recipient email", "", 40, nil, nil)
	form.AddButton("Open", func() {
		email := form.GetFormItemByLabel("Recipient email").(*tview.InputField).GetText()
		u.pages.RemovePage(pageNew)
		go u.open(email)
	})
	form.AddButton("Cancel", func() {
		u.pages.RemovePage(pageNew)
		u.app.SetFocus(u.conversationList)
	})
	form.SetBorder(true)
	form.SetTitle("New chat")
	form.SetTitleAlign(tview.AlignCenter)

	u.pages.AddPage(pageNew, center(form, 54, 9), true, true)
	u.app.SetFocus(form)
}

func (u *ui) openByIndex(index int) {
	conversations := u.deps.Chat.CachedConversations()
	if index < 0 || index >= len(conversations) {
		return
	}
	self := u.deps.Session.Current()
	if self == nil {
		return
	}
	recipient, ok := conversations[index].Recipient(self.ID)
	if !ok {
		return
	}
	u.open(recipient.Email)
}

func (u *ui) open(recipientEmail string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := u.deps.Chat.Open(ctx, recipientEmail); err != nil {
		u.logger.WithError(err).Info("opening conversation failed")
		return
	}
	u.app.QueueUpdateDraw(func() {
		u.render()
		u.app.SetFocus(u.composer)
	})
}

// send posts the composer text. The field is cleared only once the server
// accepts the message, so a failed send keeps the draft for a retry.
func (u *ui) send(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := u.deps.Chat.Send(ctx, text); err != nil {
		u.logger.WithError(err).Info("send failed")
		return
	}
	u.app.QueueUpdateDraw(func() {
		u.composer.SetText("")
		u.render()
	})
}

func (u *ui) showDeleteAccountPrompt() {
	modal := tview.NewModal().
		SetText("Delete your account? This removes your profile and cannot be undone.").
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(pageDelete)
			if buttonLabel == "Delete" {
				go u.deleteAccount()
			} else {
				u.app.SetFocus(u.conversationList)
			}
		})
	u.pages.AddPage(pageDelete, modal, true, true)
	u.app.SetFocus(modal)
}

// deleteAccount removes the account server-side; the session store's logout
// broadcast then tears the UI down via watchSession.
func (u *ui) deleteAccount() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := u.deps.API.DeleteAccount(ctx); err != nil {
		u.logger.WithError(err).Warn("account deletion failed")
		if msg, ok := api.ServerMessage(err); ok {
			u.deps.Notifier.Error(msg)
		} else {
			u.deps.Notifier.Error("Could not delete the account.")
		}
		return
	}
	u.deps.Notifier.Info("Account deleted.")
}

func (u *ui) logout() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	u.deps.Chat.Stop()
	u.deps.Channel.Close()
	if err := u.deps.API.Logout(ctx); err != nil {
		u.logger.WithError(err).Warn("logout request failed")
	}
}

// render redraws the conversation list, the open conversation's messages,
// and the composer title. Must run on the event loop.
func (u *ui) render() {
	self := u.deps.Session.Current()
	if self == nil {
		return
	}

	conversations := u.deps.Chat.CachedConversations()
	current := u.conversationList.GetCurrentItem()
	u.conversationList.Clear()
	for _, conv := range conversations {
		name := "Unknown"
		if recipient, ok := conv.Recipient(self.ID); ok {
			name = recipient.Name
		}
		preview := conv.LastMessage.Content
		if preview == "" {
			preview = "No messages yet"
		}
		u.conversationList.AddItem(name, preview, 0, nil)
	}
	if current >= 0 && current < u.conversationList.GetItemCount() {
		u.conversationList.SetCurrentItem(current)
	}

	active := u.deps.Chat.Active()
	if active == nil {
		u.messageView.SetText("")
		u.messageView.SetTitle("Messages")
		return
	}
	title := "Messages"
	if recipient, ok := active.Recipient(self.ID); ok {
		title = "Messages with " + recipient.Name
	}
	u.messageView.SetTitle(title)

	messages := u.deps.Chat.CachedMessages(active.ID)
	u.messageView.Clear()
	for _, msg := range messages {
		who := "them"
		color := "[yellow]"
		if msg.SenderID == self.ID {
			who = "me"
			color = "[green]"
		}
		fmt.Fprintf(u.messageView, "%s%s[-] %s  %s\n", color, who, msg.CreatedAt.Local().Format("15:04"), tview.Escape(msg.Content))
	}
	u.messageView.ScrollToEnd()
}

// watchNotices paints notifier output onto the status bar.
func (u *ui) watchNotices() {
	notices, cancel := u.deps.Notifier.Subscribe()
	defer cancel()

	for notice := range notices {
		text := notice.Text
		if notice.Level == notify.LevelError {
			text = "[red]" + tview.Escape(text) + "[-]"
		} else {
			text = "[blue]" + tview.Escape(text) + "[-]"
		}
		u.app.QueueUpdateDraw(func() { u.statusBar.SetText(text) })
	}
}

// watchChat re-renders whenever the cache changes, socket pushes included.
func (u *ui) watchChat() {
	ticks, cancel := u.deps.Chat.Watch()
	defer cancel()

	for range ticks {
		u.app.QueueUpdateDraw(u.render)
	}
}

// watchSession follows login state. An expired refresh token logs the
// session out from inside the HTTP client, and this is where the UI
// finds out.
func (u *ui) watchSession() {
	states, cancel := u.deps.Session.Watch()
	defer cancel()

	for state := range states {
		if state != session.Anonymous {
			continue
		}
		u.deps.Chat.Stop()
		u.deps.Channel.Close()
		u.app.QueueUpdateDraw(func() {
			u.pages.SwitchToPage(pageLogin)
		})
	}
}

func center(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}
