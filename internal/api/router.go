package api

import (
	"errors"
	"net/http"
	"strings"

	"arena-service/internal/middleware"
	"arena-service/internal/service"
	authsvc "arena-service/internal/service/auth"
	"arena-service/internal/service/battle"
	ratelimitSvc "arena-service/internal/service/ratelimit"
	usersvc "arena-service/internal/service/user"
	"arena-service/internal/ws"
	appErr "arena-service/pkg/errors"
	"arena-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container, hub *ws.Hub) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(hub, services.Battle)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/arena/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/email/send", handler.SendEmailCode)
			authGroup.POST("/email/verify", handler.VerifyEmailCode)
			authGroup.POST("/register", handler.Register)
			authGroup.POST("/login", handler.Login)
		}

		userGroup := v1.Group("/user")
		userGroup.Use(middleware.AuthRequired())
		{
			userGroup.GET("/profile", handler.GetProfile)
			userGroup.PUT("/profile", handler.UpdateProfile)
		}

		v1.GET("/problems", handler.ListProblems)

		protected := v1.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/wallet", handler.GetWallet)
			protected.GET("/usage", handler.GetUsage)
			protected.POST("/usage/consume", handler.ConsumeUsage)

			battleGroup := protected.Group("/battle")
			{
				battleGroup.GET("/rooms", handler.ListRooms)
				battleGroup.POST("/rooms", handler.CreateRoom)
				battleGroup.GET("/policy/duration", handler.DurationPolicy)
				// "me" resolves to the caller's active room.
				battleGroup.GET("/rooms/:roomId", handler.GetRoom)
				battleGroup.PATCH("/rooms/:roomId", handler.UpdateRoom)
				battleGroup.PUT("/rooms/:roomId", handler.UpdateRoom)
				battleGroup.POST("/rooms/:roomId/join", handler.JoinRoom)
				battleGroup.POST("/rooms/:roomId/leave", handler.LeaveRoom)
				battleGroup.POST("/rooms/:roomId/kick", handler.KickUser)
				battleGroup.POST("/rooms/:roomId/ready", handler.SetReady)
				battleGroup.POST("/rooms/:roomId/submit", handler.Submit)
				battleGroup.POST("/rooms/:roomId/surrender", handler.Surrender)
				battleGroup.POST("/matches/:matchId/settle", handler.SettleMatch)
			}
		}
	}

	r.GET("/ws/battle/:roomId", wsHandler.HandleBattleWS)
	r.GET("/ws/lobby", wsHandler.HandleLobbyWS)
}

func userIDFrom(c *gin.Context) int64 {
	v, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := v.(int64)
	return userID
}

// battleStatus maps service errors to HTTP statuses. Everything not
// listed is a 500.
func battleStatus(err error) int {
	switch {
	case errors.Is(err, appErr.ErrRoomNotFound), errors.Is(err, appErr.ErrMatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErr.ErrInvalidTitle),
		errors.Is(err, appErr.ErrInvalidBet),
		errors.Is(err, appErr.ErrInvalidDuration),
		errors.Is(err, appErr.ErrInvalidPassword),
		errors.Is(err, appErr.ErrInvalidProblem),
		errors.Is(err, appErr.ErrEmptySource):
		return http.StatusBadRequest
	case errors.Is(err, appErr.ErrWrongPassword):
		return http.StatusUnauthorized
	case errors.Is(err, appErr.ErrKicked),
		errors.Is(err, appErr.ErrNotHost),
		errors.Is(err, appErr.ErrNotParticipant),
		errors.Is(err, appErr.ErrSuspended):
		return http.StatusForbidden
	case errors.Is(err, appErr.ErrRoomFull),
		errors.Is(err, appErr.ErrAlreadyInRoom),
		errors.Is(err, appErr.ErrInvalidStatus),
		errors.Is(err, appErr.ErrSelfJoin),
		errors.Is(err, appErr.ErrNotRunning),
		errors.Is(err, appErr.ErrMatchFinished),
		errors.Is(err, appErr.ErrCountdownStarted),
		errors.Is(err, appErr.ErrStartCondition):
		return http.StatusConflict
	case errors.Is(err, appErr.ErrInsufficientPoints):
		// Resource shortfall, not a conflict: clients route this to the
		// top-up flow.
		return http.StatusPaymentRequired
	case errors.Is(err, appErr.ErrSubmitCooldown),
		errors.Is(err, appErr.ErrReadyCooldown),
		errors.Is(err, appErr.ErrRoomLocked),
		errors.Is(err, appErr.ErrDailyLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, appErr.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) battleError(c *gin.Context, err error) {
	if errors.Is(err, appErr.ErrInsufficientPoints) {
		response.Fail(c, http.StatusPaymentRequired, response.CodeInsufficientPoints, nil, err.Error())
		return
	}
	response.Error(c, battleStatus(err), err.Error())
}

type emailSendBody struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) SendEmailCode(c *gin.Context) {
	var body emailSendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Auth.SendEmailCode(c.Request.Context(), body.Email); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "code sent")
}

type emailVerifyBody struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (h *Handler) VerifyEmailCode(c *gin.Context) {
	var body emailVerifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Auth.VerifyEmailCode(c.Request.Context(), body.Email, body.Code); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrInvalidCode) {
			status = http.StatusBadRequest
		}
		response.Error(c, status, err.Error())
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "verified")
}

type registerBody struct {
	Email    string `json:"email" binding:"required"`
	Nickname string `json:"nickname" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Code     string `json:"code" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.services.Auth.Register(c.Request.Context(), authsvc.RegisterRequest{
		Email:    body.Email,
		Nickname: body.Nickname,
		Password: body.Password,
		Code:     body.Code,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, appErr.ErrInvalidCode), errors.Is(err, appErr.ErrInvalidCredentials):
			status = http.StatusBadRequest
		case errors.Is(err, appErr.ErrEmailTaken), errors.Is(err, appErr.ErrNicknameTaken):
			status = http.StatusConflict
		}
		response.Error(c, status, err.Error())
		return
	}
	response.Success(c, resp)
}

type loginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.services.Auth.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, appErr.ErrInvalidCredentials) {
			status = http.StatusUnauthorized
		}
		response.Error(c, status, err.Error())
		return
	}
	response.Success(c, resp)
}

func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.services.User.Get(c.Request.Context(), userIDFrom(c))
	if err != nil {
		h.battleError(c, err)
		return
	}
	response.Success(c, user)
}

type updateProfileBody struct {
	Nickname *string `json:"nickname"`
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var body updateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.services.User.UpdateProfile(c.Request.Context(), userIDFrom(c), usersvc.UpdateProfileRequest{
		Nickname: body.Nickname,
	})
	if err != nil {
		h.battleError(c, err)
		return
	}
	response.Success(c, user)
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID := userIDFrom(c)
	balance, err := h.services.Point.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	history, err := h.services.Point.History(c.Request.Context(), userID, 20)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{
		"balance": balance,
		"history": history,
	})
}

func (h *Handler) GetUsage(c *gin.Context) {
	userID := userIDFrom(c)
	subscriber, err := h.services.User.IsSubscriber(c.Request.Context(), userID)
	if err != nil {
		h.battleError(c, err)
		return
	}
	usage, err := h.services.RateLimit.Usage(c.Request.Context(), userID, subscriber)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, usage)
}

type consumeUsageBody struct {
	Type string `json:"type" binding:"required,oneof=GENERATE SOLVE"`
}

func (h *Handler) ConsumeUsage(c *gin.Context) {
	var body consumeUsageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	userID := userIDFrom(c)
	subscriber, err := h.services.User.IsSubscriber(c.Request.Context(), userID)
	if err != nil {
		h.battleError(c, err)
		return
	}
	result, err := h.services.RateLimit.CheckAndIncrement(c.Request.Context(), userID,
		ratelimitSvc.UsageType(body.Type), subscriber)
	if err != nil {
		if errors.Is(err, appErr.ErrDailyLimitExceeded) {
			response.Fail(c, http.StatusTooManyRequests, response.CodeQuotaExhausted, result, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, result)
}

func (h *Handler) ListProblems(c *gin.Context) {
	problems, err := h.services.Problem.List(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"items": problems})
}

type createRoomBody struct {
	Title           string `json:"title" binding:"required"`
	BetAmount       int64  `json:"betAmount" binding:"min=0"`
	ProblemID       int64  `json:"problemId"`
	LanguageID      int64  `json:"languageId" binding:"required"`
	DurationMinutes int    `json:"durationMinutes" binding:"min=0,max=120"`
	Password        string `json:"password"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var body createRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Battle.CreateRoom(c.Request.Context(), battle.CreateRoomRequest{
		UserID:          userIDFrom(c),
		Title:           body.Title,
		BetAmount:       body.BetAmount,
		ProblemID:       body.ProblemID,
		LanguageID:      body.LanguageID,
		DurationMinutes: body.DurationMinutes,
		Password:        body.Password,
	})
	if err != nil {
		h.battleError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.services.Battle.ListRooms(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"items": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	var (
		resp *battle.RoomResponse
		err  error
	)
	if roomID == "me" {
		resp, err = h.services.Battle.CurrentRoom(c.Request.Context(), userIDFrom(c))
	} else {
		resp, err = h.services.Battle.GetRoom(c.Request.Context(), roomID)
	}
	if err != nil {
		h.battleError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) DurationPolicy(c *gin.Context) {
	difficulties := []string{"BRONZE", "SILVER", "GOLD", "PLATINUM"}
	items := make([]gin.H, 0, len(difficulties))
	for _, difficulty := range difficulties {
		items = append(items, gin.H{
			"difficulty":      difficulty,
			"durationMinutes": battle.DurationForDifficulty(difficulty),
		})
	}
	response.Success(c, gin.H{"items": items})
}

type updateRoomBody struct {
	Title           string `json:"title" binding:"required"`
	BetAmount       int64  `json:"betAmount" binding:"min=0"`
	ProblemID       int64  `json:"problemId"`
	DurationMinutes int    `json:"durationMinutes" binding:"min=0,max=120"`
}

func (h *Handler) UpdateRoom(c *gin.Context) {
	var body updateRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Battle.UpdateSettings(c.Request.Context(), battle.UpdateSettingsRequest{
		RoomID:          c.Param("roomId"),
		UserID:          userIDFrom(c),
		Title:           body.Title,
		BetAmount:       body.BetAmount,
		ProblemID:       body.ProblemID,
		DurationMinutes: body.DurationMinutes,
	})
	if err != nil {
		h.battleError(c, err)
		return
	}
	response.Success(c, resp)
}

type joinRoomBody struct {
	Password string `json:"password"`
}

func (h *Handler) JoinRoom(c *gin.Context) {
	var body joinRoomBody
	if err := c.ShouldBindJSON(&body); err != nil && !strings.Contains(err.Error(), "EOF") {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Battle.JoinRoom(c.Request.Context(), c.Param("roomId"), userIDFrom(c), body.Password)
	if err != nil {
		h.battleError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	if err := h.services.Battle.LeaveRoom(c.Request.Context(), c.Param("roomId"), userIDFrom(c)); err != nil {
		h.battleError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "left")
}

type kickBody struct {
	UserID int64 `json:"userId" binding:"required"`
}

func (h *Handler) KickUser(c *gin.Context) {
	var body kickBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Battle.KickUser(c.Request.Context(), c.Param("roomId"), userIDFrom(c), body.UserID); err != nil {
		h.battleError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "kicked")
}

type readyBody struct {
	Ready *bool `json:"ready" binding:"required"`
}

func (h *Handler) SetReady(c *gin.Context) {
	var body readyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Battle.SetReady(c.Request.Context(), c.Param("roomId"), userIDFrom(c), *body.Ready); err != nil {
		h.battleError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "ready updated")
}

type submitBody struct {
	SourceCode string `json:"sourceCode" binding:"required"`
}

func (h *Handler) Submit(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := h.services.Battle.Submit(c.Request.Context(), battle.SubmitRequest{
		RoomID:     c.Param("roomId"),
		UserID:     userIDFrom(c),
		SourceCode: body.SourceCode,
	})
	if err != nil {
		h.battleError(c, err)
		return
	}
	response.Success(c, outcome)
}

func (h *Handler) Surrender(c *gin.Context) {
	if err := h.services.Battle.Surrender(c.Request.Context(), c.Param("roomId"), userIDFrom(c)); err != nil {
		h.battleError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "surrendered")
}

// SettleMatch retries settlement for a match left FAILED by the
// automatic path.
func (h *Handler) SettleMatch(c *gin.Context) {
	if err := h.services.Battle.Settle(c.Request.Context(), c.Param("matchId")); err != nil {
		h.battleError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "settled")
}
