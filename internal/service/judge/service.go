package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"arena-service/internal/service/battle"
)

// Service calls the external judging backend over HTTP. The backend
// compiles and runs a submission against the problem's test set and
// reports an accept/reject verdict.
type Service struct {
	endpoint string
	client   *http.Client
}

func NewService(endpoint string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type judgeRequest struct {
	MatchID    string `json:"matchId"`
	UserID     int64  `json:"userId"`
	ProblemID  int64  `json:"problemId"`
	LanguageID int64  `json:"languageId"`
	SourceCode string `json:"sourceCode"`
}

type judgeResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

func (s *Service) Judge(ctx context.Context, cmd battle.JudgeCommand) (battle.JudgeResult, error) {
	payload, err := json.Marshal(judgeRequest{
		MatchID:    cmd.MatchID,
		UserID:     cmd.UserID,
		ProblemID:  cmd.ProblemID,
		LanguageID: cmd.LanguageID,
		SourceCode: cmd.SourceCode,
	})
	if err != nil {
		return battle.JudgeResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/judge", bytes.NewReader(payload))
	if err != nil {
		return battle.JudgeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return battle.JudgeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return battle.JudgeResult{}, fmt.Errorf("judge backend returned %d", resp.StatusCode)
	}

	var body judgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return battle.JudgeResult{}, err
	}
	return battle.JudgeResult{Accepted: body.Accepted, Message: body.Message}, nil
}

// Stub accepts any submission containing the magic marker. Wired in
// debug mode so the whole match flow can be exercised without a
// judging backend.
type Stub struct{}

const stubAcceptMarker = "//ac"

func (Stub) Judge(_ context.Context, cmd battle.JudgeCommand) (battle.JudgeResult, error) {
	if strings.Contains(strings.ToLower(cmd.SourceCode), stubAcceptMarker) {
		return battle.JudgeResult{Accepted: true, Message: "accepted"}, nil
	}
	return battle.JudgeResult{Accepted: false, Message: "wrong answer"}, nil
}
