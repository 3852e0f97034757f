// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package groupme

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Default service endpoints. Every GroupMe feature family lives on its own
// host, so the client carries one base URL per service.
const (
	DefaultAPIBase    = "https://api.groupme.com/v3"
	DefaultOldAPIBase = "https://v2.groupme.com"
	DefaultFileBase   = "https://file.groupme.com/v1"
	DefaultImageBase  = "https://image.groupme.com"
	DefaultVideoBase  = "https://video.groupme.com"
	DefaultPushURL    = "wss://push.groupme.com/faye"
)

// Client is a GroupMe REST API client authenticated with a single user
// access token.
type Client struct {
	Token string

	APIBase    string
	OldAPIBase string
	FileBase   string
	ImageBase  string
	VideoBase  string

	HTTP *http.Client
}

// NewClient creates a client for the given access token, pointed at the
// production GroupMe endpoints.
func NewClient(token string) *Client {
	return &Client{
		Token:      token,
		APIBase:    DefaultAPIBase,
		OldAPIBase: DefaultOldAPIBase,
		FileBase:   DefaultFileBase,
		ImageBase:  DefaultImageBase,
		VideoBase:  DefaultVideoBase,
		HTTP:       http.DefaultClient,
	}
}

func (c *Client) do(ctx context.Context, method, base, path string, query url.Values, body any, contentType string) ([]byte, error) {
	var reqBody io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reqBody = bytes.NewReader(b)
	default:
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	reqURL := base + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Access-Token", c.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s returned HTTP %d", method, path, resp.StatusCode)
	}
	return data, nil
}

// apiRequest performs a v3 API call and unwraps the response envelope into out.
func (c *Client) apiRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	data, err := c.do(ctx, method, c.APIBase, path, query, body, "")
	if err != nil {
		return err
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if len(envelope.Meta.Errors) > 0 {
		return fmt.Errorf("api error: %s", strings.Join(envelope.Meta.Errors, "; "))
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.apiRequest(ctx, http.MethodGet, "/users/me", nil, nil, &user); err != nil {
		return nil, fmt.Errorf("failed to get own profile: %w", err)
	}
	if user.UserID == "" {
		user.UserID = user.ID
	}
	return &user, nil
}

// Groups lists all groups the user is a member of. Memberships are omitted
// when withMembers is false, which is cheaper for id-only listings.
func (c *Client) Groups(ctx context.Context, withMembers bool) ([]*Group, error) {
	query := url.Values{"per_page": {"500"}}
	if !withMembers {
		query.Set("omit", "memberships")
	}
	var groups []*Group
	if err := c.apiRequest(ctx, http.MethodGet, "/groups", query, nil, &groups); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	for _, group := range groups {
		if group.ID == "" {
			group.ID = group.GroupID
		}
	}
	return groups, nil
}

// Group fetches a single group including its member list.
func (c *Client) Group(ctx context.Context, groupID string) (*Group, error) {
	var group Group
	if err := c.apiRequest(ctx, http.MethodGet, "/groups/"+groupID, nil, nil, &group); err != nil {
		return nil, fmt.Errorf("failed to get group %s: %w", groupID, err)
	}
	if group.ID == "" {
		group.ID = group.GroupID
	}
	return &group, nil
}

// Chats lists the user's direct-message conversations.
func (c *Client) Chats(ctx context.Context) ([]*Chat, error) {
	query := url.Values{"per_page": {"100"}}
	var chats []*Chat
	if err := c.apiRequest(ctx, http.MethodGet, "/chats", query, nil, &chats); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// GroupMessages fetches up to limit messages of a group, going backwards
// from beforeID when it is set.
func (c *Client) GroupMessages(ctx context.Context, groupID, beforeID string, limit int) ([]*Message, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if beforeID != "" {
		query.Set("before_id", beforeID)
	}
	var resp struct {
		Count    int64      `json:"count"`
		Messages []*Message `json:"messages"`
	}
	if err := c.apiRequest(ctx, http.MethodGet, "/groups/"+groupID+"/messages", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list group messages: %w", err)
	}
	return resp.Messages, nil
}

// DirectMessages fetches up to 20 direct messages exchanged with the given
// user, going backwards from beforeID when it is set.
func (c *Client) DirectMessages(ctx context.Context, otherUserID, beforeID string) ([]*Message, error) {
	query := url.Values{"other_user_id": {otherUserID}}
	if beforeID != "" {
		query.Set("before_id", beforeID)
	}
	var resp struct {
		Count          int64      `json:"count"`
		DirectMessages []*Message `json:"direct_messages"`
	}
	if err := c.apiRequest(ctx, http.MethodGet, "/direct_messages", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list direct messages: %w", err)
	}
	return resp.DirectMessages, nil
}

// PostGroupMessage posts a message to a group.
func (c *Client) PostGroupMessage(ctx context.Context, groupID string, msg *OutgoingMessage) (*Message, error) {
	var resp struct {
		Message *Message `json:"message"`
	}
	body := map[string]*OutgoingMessage{"message": msg}
	if err := c.apiRequest(ctx, http.MethodPost, "/groups/"+groupID+"/messages", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to post group message: %w", err)
	}
	return resp.Message, nil
}

// PostDirectMessage posts a direct message. The recipient must be set on msg.
func (c *Client) PostDirectMessage(ctx context.Context, msg *OutgoingMessage) (*Message, error) {
	var resp struct {
		DirectMessage *Message `json:"direct_message"`
	}
	body := map[string]*OutgoingMessage{"direct_message": msg}
	if err := c.apiRequest(ctx, http.MethodPost, "/direct_messages", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to post direct message: %w", err)
	}
	return resp.DirectMessage, nil
}

// Like marks a message in the given conversation as liked.
func (c *Client) Like(ctx context.Context, conversationID, messageID string) error {
	err := c.apiRequest(ctx, http.MethodPost, fmt.Sprintf("/messages/%s/%s/like", conversationID, messageID), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to like message: %w", err)
	}
	return nil
}

// Unlike removes a like from a message in the given conversation.
func (c *Client) Unlike(ctx context.Context, conversationID, messageID string) error {
	err := c.apiRequest(ctx, http.MethodPost, fmt.Sprintf("/messages/%s/%s/unlike", conversationID, messageID), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to unlike message: %w", err)
	}
	return nil
}

// MarkRead sends a read receipt for a direct-message conversation. Read
// receipts only exist on the v2 API.
func (c *Client) MarkRead(ctx context.Context, chatID, messageID string) error {
	body := map[string]map[string]string{
		"read_receipt": {
			"chat_id":    chatID,
			"message_id": messageID,
		},
	}
	_, err := c.do(ctx, http.MethodPost, c.OldAPIBase, "/read_receipts", nil, body, "")
	if err != nil {
		return fmt.Errorf("failed to send read receipt: %w", err)
	}
	return nil
}

// UploadImage uploads image bytes to the image service and returns the
// hosted URL usable in an image attachment.
func (c *Client) UploadImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	respBody, err := c.do(ctx, http.MethodPost, c.ImageBase, "/pictures", nil, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	var resp struct {
		Payload struct {
			URL        string `json:"url"`
			PictureURL string `json:"picture_url"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode image upload response: %w", err)
	}
	return resp.Payload.URL, nil
}

// UploadFile submits file bytes to the file service for the given
// conversation and returns the id of the server-side processing job.
func (c *Client) UploadFile(ctx context.Context, conversationID, name string, data []byte) (string, error) {
	query := url.Values{"name": {name}}
	respBody, err := c.do(ctx, http.MethodPost, c.FileBase, "/"+conversationID+"/files", query, data, "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	var resp struct {
		StatusURL string `json:"status_url"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode file upload response: %w", err)
	}
	return jobIDFromStatusURL(resp.StatusURL)
}

// FileUploadStatus returns the current status of a file upload job.
// "completed" is the terminal success value.
func (c *Client) FileUploadStatus(ctx context.Context, conversationID, jobID string) (string, error) {
	query := url.Values{"job": {jobID}}
	respBody, err := c.do(ctx, http.MethodGet, c.FileBase, "/"+conversationID+"/uploadStatus", query, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to get upload status: %w", err)
	}
	var resp struct {
		Status string `json:"status"`
		FileID string `json:"file_id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode upload status: %w", err)
	}
	return resp.Status, nil
}

// FileData fetches metadata for file attachments in a conversation.
func (c *Client) FileData(ctx context.Context, conversationID string, fileIDs []string) ([]*FileInfo, error) {
	body := map[string][]string{"file_ids": fileIDs}
	respBody, err := c.do(ctx, http.MethodPost, c.FileBase, "/"+conversationID+"/fileData", nil, body, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to get file data: %w", err)
	}
	var infos []*FileInfo
	if err := json.Unmarshal(respBody, &infos); err != nil {
		return nil, fmt.Errorf("failed to decode file data: %w", err)
	}
	return infos, nil
}

// DownloadFile fetches the raw contents of a file attachment.
func (c *Client) DownloadFile(ctx context.Context, conversationID, fileID string) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, c.FileBase, fmt.Sprintf("/%s/files/%s", conversationID, fileID), nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	return data, nil
}

// TranscodeVideo submits video bytes for transcoding and returns the id of
// the server-side transcode job.
func (c *Client) TranscodeVideo(ctx context.Context, conversationID string, data []byte) (string, error) {
	respBody, err := c.do(ctx, http.MethodPost, c.VideoBase, "/transcode", url.Values{"conversation_id": {conversationID}}, data, "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("failed to submit video transcode: %w", err)
	}
	var resp struct {
		StatusURL string `json:"status_url"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to decode transcode response: %w", err)
	}
	return jobIDFromStatusURL(resp.StatusURL)
}

// VideoStatus returns the current state of a transcode job. The Status
// field is "complete" once the hosted URLs are available.
func (c *Client) VideoStatus(ctx context.Context, jobID string) (*VideoJobResult, error) {
	query := url.Values{"job": {jobID}}
	respBody, err := c.do(ctx, http.MethodGet, c.VideoBase, "/status", query, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get transcode status: %w", err)
	}
	var result VideoJobResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode transcode status: %w", err)
	}
	return &result, nil
}

// Download fetches an absolute URL (attachment or avatar) with the client's
// credentials attached.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Access-Token", c.Token)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download of %s returned HTTP %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// jobIDFromStatusURL extracts the job id from a status_url returned by the
// file and video services.
func jobIDFromStatusURL(statusURL string) (string, error) {
	parsed, err := url.Parse(statusURL)
	if err != nil {
		return "", fmt.Errorf("invalid status_url %q: %w", statusURL, err)
	}
	jobID := parsed.Query().Get("job")
	if jobID == "" {
		return "", fmt.Errorf("status_url %q has no job parameter", statusURL)
	}
	return jobID, nil
}
