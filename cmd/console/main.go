package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"tenantdesk/internal/app/controller"
	"tenantdesk/internal/app/pager"
	"tenantdesk/internal/app/store"
	"tenantdesk/internal/infra/config"
	"tenantdesk/internal/infra/hub"
	"tenantdesk/internal/infra/obs"
	"tenantdesk/internal/infra/rest"
)

func main() {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)
	if cfg.SessionToken == "" || cfg.UserID == "" {
		logger.Error("SESSION_TOKEN and USER_ID are required")
		os.Exit(1)
	}

	api, err := rest.NewClient(rest.Config{
		BaseURL:     cfg.APIBaseURL,
		Token:       cfg.SessionToken,
		CallTimeout: cfg.RESTTimeout,
	}, &http.Client{}, logger)
	if err != nil {
		logger.Error("rest client init failed", "error", err)
		os.Exit(1)
	}

	transport := hub.NewClient(hub.Config{
		URL:     cfg.HubURL,
		Backoff: cfg.HubReconnectBackoff,
	}, logger)
	transport.OnStateChange(func(s hub.State) {
		logger.Info("hub state", "state", s.String())
	})

	conversations := store.New(api, cfg.UserID, logger)
	view := &termView{out: os.Stdout}
	pages := pager.New(api, view, cfg.PageSize, logger)
	view.pager = pages

	ctrl := controller.New(controller.Deps{
		API:       api,
		Transport: transport,
		Store:     conversations,
		Pager:     pages,
		View:      view,
		Notifier:  termNotifier{},
		Logger:    logger,
		UserID:    cfg.UserID,
		UserRole:  cfg.UserRole,
		Token:     cfg.SessionToken,
	})
	defer ctrl.Close()

	if err := ctrl.Open(ctx); err != nil {
		logger.Error("session open failed", "error", err)
	}
	printList(conversations, ctrl.OpenID())
	fmt.Println(`commands: /list /open N /older /partners /start ID /quit - anything else sends`)

	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/list":
			if err := ctrl.RefreshList(ctx, ""); err == nil {
				printList(conversations, ctrl.OpenID())
			}
		case line == "/older":
			if err := pages.LoadOlder(ctx); err != nil {
				fmt.Println("! could not load older messages")
			}
		case line == "/partners":
			partners, err := api.SearchPartners(ctx)
			if err != nil {
				fmt.Println("! partner search failed")
				continue
			}
			for _, p := range partners {
				fmt.Printf("  %s  %s (%s)\n", p.ID, p.Name, p.Role)
			}
		case strings.HasPrefix(line, "/open "):
			idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			items := conversations.Conversations()
			if err != nil || idx < 1 || idx > len(items) {
				fmt.Println("! usage: /open N")
				continue
			}
			if err := ctrl.Select(ctx, items[idx-1].ID); err != nil {
				fmt.Println("! could not open conversation")
			}
		case strings.HasPrefix(line, "/start "):
			partnerID := strings.TrimSpace(strings.TrimPrefix(line, "/start "))
			if err := ctrl.StartWith(ctx, partnerID); err != nil {
				continue
			}
		case line == "":
			continue
		default:
			if err := ctrl.Send(ctx, line); err != nil {
				if errors.Is(err, controller.ErrNoConversation) {
					fmt.Println("! open a conversation first (/open N)")
				}
				// Draft stays in the terminal scrollback; resend manually.
			}
		}
	}
}

func printList(s *store.Store, openID string) {
	items := s.Conversations()
	if len(items) == 0 {
		fmt.Println("(no conversations)")
		return
	}
	for i, conv := range items {
		marker := " "
		if conv.ID == openID {
			marker = ">"
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", conv.UnreadCount)
		}
		fmt.Printf("%s %2d. %s%s  %s\n", marker, i+1, conv.PartnerName, unread, conv.LastMessage)
	}
}

// termView renders pager side effects onto the terminal. Scroll-to-bottom
// prints the tail of the window; offset preservation just reports how many
// older rows were prepended.
type termView struct {
	mu    sync.Mutex
	out   *os.File
	pager *pager.Pager
}

func (v *termView) ScrollToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pager == nil {
		return
	}
	messages := v.pager.Messages()
	start := 0
	if len(messages) > 10 {
		start = len(messages) - 10
	}
	for _, m := range messages[start:] {
		fmt.Fprintf(v.out, "  [%s] %s: %s\n", m.SentAt.Format("15:04"), m.SenderID, m.Text)
	}
}

func (v *termView) PreserveOffset(prepended int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "  (loaded %d older messages)\n", prepended)
}

type termNotifier struct{}

func (termNotifier) Notify(text string) {
	fmt.Printf("* %s\n", text)
}
