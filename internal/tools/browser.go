package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

// browserSession is one Chrome instance.
type browserSession struct {
	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func (s *browserSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.browserCtx = nil
	s.browserCancel = nil
	s.allocCancel = nil
}

// BrowserSessions owns one browser per plan. Consecutive steps of a plan
// continue on the same page; Close releases the plan's browser.
type BrowserSessions struct {
	mu            sync.Mutex
	sessions      map[string]*browserSession
	Headless      bool
	ActionTimeout time.Duration
	ScreenshotDir string
}

func NewBrowserSessions(headless bool, actionTimeout time.Duration) *BrowserSessions {
	if actionTimeout <= 0 {
		actionTimeout = 180 * time.Second
	}
	return &BrowserSessions{
		sessions:      make(map[string]*browserSession),
		Headless:      headless,
		ActionTimeout: actionTimeout,
		ScreenshotDir: "screenshots",
	}
}

func (b *BrowserSessions) session(planID string) *browserSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[planID]
	if !ok {
		s = &browserSession{}
		b.sessions[planID] = s
	}
	return s
}

// Active reports whether planID currently holds a session.
func (b *BrowserSessions) Active(planID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[planID]
	return ok
}

// Close shuts down the browser of planID, if any.
func (b *BrowserSessions) Close(planID string) {
	b.mu.Lock()
	s, ok := b.sessions[planID]
	delete(b.sessions, planID)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

// Tool returns a browser tool bound to planID.
func (b *BrowserSessions) Tool(planID string) *BrowserTool {
	return &BrowserTool{sessions: b, planID: planID}
}

func (b *BrowserSessions) start(s *browserSession) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx != nil {
		select {
		case <-s.browserCtx.Done():
		default:
			return s.browserCtx, nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	s.browserCtx, s.allocCancel, s.browserCancel = browserCtx, allocCancel, browserCancel
	return browserCtx, nil
}

type BrowserTool struct {
	sessions *BrowserSessions
	planID   string
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Control a browser shared by all steps of this plan. Actions: 'navigate', 'click', 'content', 'type', 'press', 'scroll', 'wait', 'back', 'reload', 'screenshot', 'close'."
}

func (b *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					"navigate", "click", "content", "type", "press",
					"scroll", "wait", "back", "reload", "screenshot", "close",
				},
				"description": "The action to perform.",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to navigate to (required for 'navigate')",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for the target element (required for 'click', 'type'; optional for 'scroll', 'wait')",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "The text to type or key to press (required for 'type', 'press')",
			},
			"wait_seconds": map[string]any{
				"type":        "integer",
				"description": "Time to wait in seconds (used with 'wait')",
			},
		},
		"required": []string{"action"},
	}
}

func (b *BrowserTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Action      string `json:"action"`
		URL         string `json:"url"`
		Selector    string `json:"selector"`
		Text        string `json:"text"`
		WaitSeconds int    `json:"wait_seconds"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	if args.Action == "close" {
		b.sessions.Close(b.planID)
		return "Successfully closed the browser.", nil
	}
	if msg := validateBrowserArgs(args.Action, args.URL, args.Selector, args.Text); msg != "" {
		return msg, nil
	}

	browserCtx, err := b.sessions.start(b.sessions.session(b.planID))
	if err != nil {
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}

	actionCtx, cancel := context.WithTimeout(browserCtx, b.sessions.ActionTimeout)
	defer cancel()
	// Stop the action if the step itself is cancelled.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var result string
	switch args.Action {
	case "navigate":
		err = chromedp.Run(actionCtx, chromedp.Navigate(args.URL))
		result = fmt.Sprintf("Successfully navigated to %s", args.URL)

	case "content":
		var html string
		err = chromedp.Run(actionCtx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				node, err := dom.GetDocument().Do(ctx)
				if err != nil {
					return err
				}
				html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
				return err
			}),
		)
		if len(html) > defaultScrapeLimit {
			html = html[:defaultScrapeLimit] + "\n... (truncated)"
		}
		result = html

	case "click":
		err = chromedp.Run(actionCtx, chromedp.Click(args.Selector, chromedp.ByQuery))
		result = fmt.Sprintf("Clicked %s", args.Selector)

	case "type":
		err = chromedp.Run(actionCtx, chromedp.SendKeys(args.Selector, args.Text, chromedp.ByQuery))
		result = fmt.Sprintf("Typed text in %s", args.Selector)

	case "press":
		err = chromedp.Run(actionCtx, chromedp.KeyEvent(args.Text))
		result = fmt.Sprintf("Pressed key: %s", args.Text)

	case "scroll":
		if args.Selector != "" {
			err = chromedp.Run(actionCtx, chromedp.ScrollIntoView(args.Selector, chromedp.ByQuery))
			result = fmt.Sprintf("Scrolled to %s", args.Selector)
		} else {
			err = chromedp.Run(actionCtx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil))
			result = "Scrolled to bottom"
		}

	case "wait":
		switch {
		case args.Selector != "":
			err = chromedp.Run(actionCtx, chromedp.WaitVisible(args.Selector, chromedp.ByQuery))
			result = fmt.Sprintf("Finished waiting for %s", args.Selector)
		case args.WaitSeconds > 0:
			err = chromedp.Run(actionCtx, chromedp.Sleep(time.Duration(args.WaitSeconds)*time.Second))
			result = fmt.Sprintf("Waited for %d seconds", args.WaitSeconds)
		default:
			result = "Nothing to wait for"
		}

	case "back":
		err = chromedp.Run(actionCtx, chromedp.NavigateBack())
		result = "Navigated back"

	case "reload":
		err = chromedp.Run(actionCtx, chromedp.Reload())
		result = "Page reloaded"

	case "screenshot":
		var buf []byte
		err = chromedp.Run(actionCtx, chromedp.CaptureScreenshot(&buf))
		if err == nil {
			result, err = b.saveScreenshot(buf)
		}
	}

	if err != nil {
		return fmt.Sprintf("Browser action failed: %v", err), nil
	}
	return result, nil
}

func (b *BrowserTool) saveScreenshot(buf []byte) (string, error) {
	dir := filepath.Join(b.sessions.ScreenshotDir, b.planID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("screenshot_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", err
	}
	absPath, _ := filepath.Abs(path)
	return fmt.Sprintf("Screenshot saved to %s", absPath), nil
}

// validateBrowserArgs returns a message for the model when required
// arguments are missing, or "" if the call can proceed.
func validateBrowserArgs(action, url, selector, text string) string {
	switch action {
	case "navigate":
		if url == "" {
			return "Error: url is required for 'navigate'"
		}
	case "click":
		if selector == "" {
			return "Error: selector required"
		}
	case "type":
		if selector == "" || text == "" {
			return "Error: selector and text required"
		}
	case "press":
		if text == "" {
			return "Error: text (key) required"
		}
	case "content", "scroll", "wait", "back", "reload", "screenshot":
	default:
		return "Invalid action"
	}
	return ""
}
