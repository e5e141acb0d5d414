package pochipo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Agent responses can take a while because the server
// drives one or more model calls per message.
const DefaultHTTPTimeout = 120 * time.Second

// Client wraps the HTTP interactions with the pochipo REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents the username and password pair used to register
// or log in.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// User is the identity returned on registration.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ChatReply is the agent's answer to a message.
type ChatReply struct {
	Response string `json:"response"`
	ThreadID string `json:"threadId,omitempty"`
}

// Token describes a meme token recorded in the directory.
type Token struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Description     string `json:"description"`
	Explanation     string `json:"explanation"`
	SourceLink      string `json:"sourceLink"`
	ContractAddress string `json:"contractAddress"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("pochipo api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("pochipo api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the pochipo API. When httpClient is
// nil, a default client with a generous timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, creds Credentials) (User, error) {
	var user User
	if err := c.post(ctx, "/api/register", creds, &user, false); err != nil {
		return User{}, err
	}
	return user, nil
}

// Login exchanges credentials for a bearer token and stores it for
// subsequent authenticated calls.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	var reply struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/api/login", creds, &reply, false); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.accessToken = reply.Token
	c.mu.Unlock()
	return reply.Token, nil
}

// Interact sends a message on an anonymous thread. An empty threadID starts
// a new thread; the server returns the id to continue the conversation.
func (c *Client) Interact(ctx context.Context, threadID, message string) (ChatReply, error) {
	payload := struct {
		Message  string `json:"message"`
		ThreadID string `json:"threadId,omitempty"`
	}{Message: message, ThreadID: threadID}

	var reply ChatReply
	if err := c.post(ctx, "/api/interact", payload, &reply, false); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// UserChat sends a message as the logged-in user. Requires a prior Login
// or SetAccessToken.
func (c *Client) UserChat(ctx context.Context, message string) (ChatReply, error) {
	payload := struct {
		Message string `json:"message"`
	}{Message: message}

	var reply ChatReply
	if err := c.post(ctx, "/api/user-chat", payload, &reply, true); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

// Tokens lists every token the agent has minted, oldest first.
func (c *Client) Tokens(ctx context.Context) ([]Token, error) {
	var tokens []Token
	if err := c.get(ctx, "/api/tokens", &tokens, false); err != nil {
		return nil, err
	}
	return tokens, nil
}

// TokenByID fetches a single token by identifier.
func (c *Client) TokenByID(ctx context.Context, id string) (Token, error) {
	var token Token
	if err := c.get(ctx, "/api/tokens/"+url.PathEscape(id), &token, false); err != nil {
		return Token{}, err
	}
	return token, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		token := c.AccessToken()
		if token == "" {
			return nil, errors.New("pochipo: access token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
