package main

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"docportal/models"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const signedURLTTL = 60 * time.Second

func setupRoutes(r *gin.Engine) {
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	r.POST("/password/forgot", forgotPasswordHandler)
	r.POST("/password/reset", resetPasswordHandler)
	r.GET("/files", signedFileHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/password", updatePasswordHandler)
	authGroup.GET("/profile", getProfileHandler)
	authGroup.POST("/profile", createProfileHandler)
	authGroup.GET("/documents", listDocumentsHandler)
	authGroup.GET("/documents/counts", documentCountsHandler)
	authGroup.POST("/documents", uploadDocumentHandler)
	authGroup.GET("/documents/:id/download", downloadDocumentHandler)
	authGroup.GET("/documents/:id/notes", listNotesHandler)
	authGroup.POST("/documents/:id/notes", createNoteHandler)
	authGroup.GET("/ws/documents/:id/notes", notesPanelHandler)
	authGroup.GET("/updates", updateStatusHandler)
	authGroup.POST("/updates/check", updateCheckHandler)
	authGroup.POST("/updates/accept", updateAcceptHandler)
	authGroup.POST("/updates/dismiss", updateDismissHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenString = authHeader[7:]
		} else if t := c.Query("token"); t != "" {
			// websocket clients cannot set headers
			tokenString = t
		}
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		userID, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		c.Set("userID", userID)
		if role != "" {
			c.Set("role", role)
		}
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "email": user.Email})
}

// getUserFromContext fetches the currently authenticated user using the id set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	idVal, _ := c.Get("userID")
	if idVal == nil {
		return nil, false
	}
	id := idVal.(string)
	var user models.User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func isAdmin(c *gin.Context) bool {
	role, _ := c.Get("role")
	return role == models.RoleAdmin
}

func registerHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := Register(req.Email, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Login(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := signAccessToken(user, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// signAccessToken resolves the role name from RoleID and signs a JWT.
func signAccessToken(user models.User, ttl time.Duration) (string, error) {
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  roleName,
		"exp":   time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID string) (string, error) {
	raw, hash, err := newRawToken()
	if err != nil {
		return "", err
	}
	rt := models.RefreshToken{UserID: userID, TokenHash: hash, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return raw, nil
}

// helper to find refresh token record by raw token string
func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", hashToken(token)).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.Where("id = ?", rt.UserID).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tokenString, err := signAccessToken(user, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

// forgotPasswordHandler mails a reset link. Replies identically whether or
// not the address exists.
func forgotPasswordHandler(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var user models.User
	if err := db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err == nil {
		raw, err := createPasswordResetToken(user.ID)
		if err == nil {
			redirect := req.RedirectURL
			if redirect == "" {
				redirect = publicBaseURL + "/auth/reset-password"
			}
			link := redirect + "?token=" + raw
			if err := mailer.SendPasswordReset(user.Email, link); err != nil {
				// Logged, never surfaced: replying differently would leak
				// which addresses exist.
				log.Printf("failed to send reset mail to %s: %v", user.Email, err)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the address exists, a reset link has been sent"})
}

func resetPasswordHandler(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findResetTokenByRaw(req.Token)
	if err != nil || rt.Used || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired reset token"})
		return
	}
	if err := UpdatePassword(rt.UserID, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	db.Model(&models.PasswordResetToken{}).Where("id = ?", rt.ID).Update("used", true)
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func updatePasswordHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := UpdatePassword(user.ID, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func createProfileHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		CompanyName string `json:"company_name" binding:"required"`
		Email       string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profile := models.Profile{UserID: user.ID, CompanyName: req.CompanyName, Email: req.Email}
	if err := db.Create(&profile).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": profile.ID})
}

func getProfileHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var p models.Profile
	if err := db.Where("user_id = ?", user.ID).First(&p).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// listDocumentsHandler seeds the caller's session store from the database
// (newest first, counts zero-filled) and kicks off the batched count
// refresh in the background. An optional ?year= filter is applied purely
// in memory.
func listDocumentsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var docs []models.Document
	q := db.Model(&models.Document{})
	if !isAdmin(c) {
		q = q.Where("user_id = ?", user.ID)
	}
	if err := q.Order("created_at desc").Find(&docs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	store := sessions.get(user.ID)
	store.Initialize(docs)
	go store.RefreshNoteCounts(context.Background())

	if year := c.Query("year"); year != "" {
		c.JSON(http.StatusOK, store.Filter(year))
		return
	}
	c.JSON(http.StatusOK, store.Documents())
}

// documentCountsHandler returns the current derived note counts of the
// caller's session. Counts lag the background refresh; a zero here means
// "not yet known" until the refresh lands.
func documentCountsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	counts := make(map[string]int64)
	for _, d := range sessions.get(user.ID).Documents() {
		counts[d.ID] = d.NotesCount
	}
	c.JSON(http.StatusOK, counts)
}

// uploadDocumentHandler stores the binary in the object store and the
// metadata row in the database, then prepends the new document to the
// uploader's session. Admins may upload on behalf of a customer via the
// user_id form field.
func uploadDocumentHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	targetID := user.ID
	if v := c.PostForm("user_id"); v != "" && isAdmin(c) {
		targetID = v
	}

	year := c.PostForm("year")
	month := c.PostForm("month")
	if year == "" || month == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "year and month required"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if file.Size > 20*1024*1024 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 20MB)"})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open failed"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read failed"})
		return
	}

	ct := file.Header.Get("Content-Type")
	docType := models.TypeImage
	if strings.Contains(ct, "pdf") || strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		docType = models.TypePDF
	}
	ext := path.Ext(file.Filename)
	objectName := fmt.Sprintf("%s_%d%s", uuid.New().String()[:8], time.Now().UnixMilli(), ext)
	filePath := fmt.Sprintf("%s/%s/%s/%s", targetID, year, month, objectName)

	// display name: custom if provided, otherwise the original file name
	displayName := file.Filename
	if custom := strings.TrimSpace(c.PostForm("name")); custom != "" {
		displayName = custom + ext
	}

	if err := objectStore.Upload(c.Request.Context(), filePath, bytes.NewReader(data), ct); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage upload failed"})
		return
	}

	thumbPath := ""
	if docType == models.TypeImage {
		thumbPath = makeThumbnail(c, filePath, data)
	}

	doc := models.Document{
		UserID:    targetID,
		Name:      displayName,
		FilePath:  filePath,
		Year:      year,
		Month:     month,
		Size:      fmt.Sprintf("%.2f MB", float64(file.Size)/1024/1024),
		Status:    models.StatusUnread,
		Type:      docType,
		ThumbPath: thumbPath,
	}
	if err := db.Create(&doc).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db save failed"})
		return
	}

	sessions.get(targetID).ApplyUpload(doc)
	if targetID != user.ID {
		// admin uploading on behalf: the admin's own view also holds it
		sessions.get(user.ID).ApplyUpload(doc)
	}
	c.JSON(http.StatusOK, doc)
}

// makeThumbnail derives a bounded preview for image documents. Failures
// only cost the preview.
func makeThumbnail(c *gin.Context, filePath string, data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		log.Printf("thumbnail decode failed for %s: %v", filePath, err)
		return ""
	}
	thumb := imaging.Fit(img, 320, 320, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		log.Printf("thumbnail encode failed for %s: %v", filePath, err)
		return ""
	}
	thumbPath := "thumbs/" + filePath + ".jpg"
	if err := objectStore.Upload(c.Request.Context(), thumbPath, &buf, "image/jpeg"); err != nil {
		log.Printf("thumbnail upload failed for %s: %v", filePath, err)
		return ""
	}
	return thumbPath
}

// downloadDocumentHandler issues a 60-second signed URL for the document
// binary and flips its status to read on first download.
func downloadDocumentHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var doc models.Document
	if err := db.Where("id = ?", c.Param("id")).First(&doc).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if !isAdmin(c) && doc.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	url, err := objectStore.SignedURL(c.Request.Context(), doc.FilePath, signedURLTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign download url"})
		return
	}
	if doc.Status == models.StatusUnread {
		db.Model(&models.Document{}).Where("id = ?", doc.ID).Update("status", models.StatusRead)
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// signedFileHandler serves local-store objects for signed URLs. No session
// is required; the signature is the authorization.
func signedFileHandler(c *gin.Context) {
	if localStore == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	p := c.Query("path")
	exp, err := strconv.ParseInt(c.Query("exp"), 10, 64)
	if err != nil || !localStore.Verify(p, exp, c.Query("sig")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired link"})
		return
	}
	f, err := localStore.Open(p)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	defer f.Close()
	c.Header("Content-Disposition", "attachment; filename=\""+path.Base(p)+"\"")
	_, _ = io.Copy(c.Writer, f)
}

func documentForNoteAccess(c *gin.Context) (*models.Document, bool) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil, false
	}
	var doc models.Document
	if err := db.Where("id = ?", c.Param("id")).First(&doc).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	if !isAdmin(c) && doc.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return &doc, true
}

func listNotesHandler(c *gin.Context) {
	doc, ok := documentForNoteAccess(c)
	if !ok {
		return
	}
	notes, err := noteSource.ListNotes(c.Request.Context(), doc.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, notes)
}

func createNoteHandler(c *gin.Context) {
	doc, ok := documentForNoteAccess(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required"})
		return
	}
	note, err := noteSource.InsertNote(c.Request.Context(), doc.ID, user.ID, content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, note)
}

func updateStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"update_available": updater.UpdateAvailable(),
		"pending_version":  updater.PendingVersion(),
		"active_version":   bundles.ActiveVersion(),
		"reload_epoch":     reloadEpoch(),
	})
}

func updateCheckHandler(c *gin.Context) {
	updater.CheckNow()
	c.JSON(http.StatusOK, gin.H{"message": "check requested"})
}

func updateAcceptHandler(c *gin.Context) {
	updater.Accept()
	c.JSON(http.StatusOK, gin.H{"message": "update accepted"})
}

func updateDismissHandler(c *gin.Context) {
	updater.Dismiss()
	c.JSON(http.StatusOK, gin.H{"message": "update dismissed"})
}
