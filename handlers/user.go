package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"nistmatch/apperror"
	"nistmatch/media"
	"nistmatch/middleware"
	"nistmatch/service"
)

const (
	maxProfileBody = 64 << 10
	maxPictureSize = 10 << 20
)

type UserHandler struct {
	profiles *service.ProfileService
	uploader media.Uploader
	// trustPayloadID lets profile updates through without a session.
	trustPayloadID bool
	logger         *zap.Logger
}

// NewUserHandler builds the profile endpoints. uploader may be nil when media
// storage is not configured.
func NewUserHandler(profiles *service.ProfileService, uploader media.Uploader, trustPayloadID bool, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		profiles:       profiles,
		uploader:       uploader,
		trustPayloadID: trustPayloadID,
		logger:         logger,
	}
}

// Me returns the signed-in user as currently stored.
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		c.Error(apperror.NewUnauthorized("no session user in context", nil))
		return
	}
	c.JSON(http.StatusOK, NewUserResponse(user))
}

// payloadUserID reads "id", falling back to the "_id" key older clients send.
// The value must be a well-formed ObjectID hex string.
func payloadUserID(payload map[string]any) (string, error) {
	for _, key := range []string{"id", "_id"} {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		id, ok := raw.(string)
		if !ok {
			return "", apperror.NewInvalidInput("User ID must be a string", nil)
		}
		if id = strings.TrimSpace(id); id != "" {
			if !primitive.IsValidObjectID(id) {
				return "", apperror.NewInvalidInput("Invalid user ID", nil)
			}
			return id, nil
		}
	}
	return "", apperror.NewInvalidInput("User ID is required", nil)
}

// UpdateProfile merges allowlisted fields into the user named in the payload.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var payload map[string]any
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxProfileBody)
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.Error(apperror.NewInvalidInput("Request body must be a JSON object", err))
		return
	}

	id, err := payloadUserID(payload)
	if err != nil {
		c.Error(err)
		return
	}

	if !h.trustPayloadID {
		sessionID, ok := middleware.GetUserID(c)
		if !ok {
			c.Error(apperror.NewUnauthorized("profile update without session", nil))
			return
		}
		if sessionID != id {
			c.Error(apperror.NewPermissionDenied("payload id does not match session user " + sessionID))
			return
		}
	}

	user, err := h.profiles.UpdateProfile(c.Request.Context(), id, payload)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewUserResponse(user))
}

// UploadPicture stores the multipart "picture" file and sets profilePic.
func (h *UserHandler) UploadPicture(c *gin.Context) {
	if h.uploader == nil {
		c.Error(apperror.NewUnavailable("profile picture uploads are not configured"))
		return
	}
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.Error(apperror.NewUnauthorized("no session user in context", nil))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPictureSize+(1<<20))
	file, header, err := c.Request.FormFile("picture")
	if err != nil {
		c.Error(apperror.NewInvalidInput("No picture file provided", err))
		return
	}
	defer file.Close()

	if header.Size > maxPictureSize {
		c.Error(apperror.NewInvalidInput("Picture exceeds 10MB", nil))
		return
	}
	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		c.Error(apperror.NewInvalidInput("Picture must be an image", nil))
		return
	}

	url, err := h.uploader.UploadAvatar(c.Request.Context(), userID, file)
	if err != nil {
		c.Error(apperror.NewAppError(apperror.ErrUpstream, "Failed to upload picture", "user="+userID, err))
		return
	}

	user, err := h.profiles.SetProfilePic(c.Request.Context(), userID, url)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, NewUserResponse(user))
}

// ListUsers returns users matching equality filters from the query string,
// e.g. /api/users?location=Delhi&limit=20.
func (h *UserHandler) ListUsers(c *gin.Context) {
	query := c.Request.URL.Query()

	var limit int64
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.Error(apperror.NewInvalidInput("limit must be a positive integer", err))
			return
		}
		limit = n
	}

	filter := make(map[string]string)
	for key, values := range query {
		if key == "limit" || len(values) == 0 {
			continue
		}
		filter[key] = values[0]
	}

	users, err := h.profiles.List(c.Request.Context(), filter, limit)
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, NewUserResponse(u))
	}
	c.JSON(http.StatusOK, out)
}
