package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ofirwie/rechnung-meister/internal/company"
	"github.com/ofirwie/rechnung-meister/internal/model"
	"github.com/ofirwie/rechnung-meister/pkg/database"
	"github.com/ofirwie/rechnung-meister/pkg/jwtutil"
	"github.com/ofirwie/rechnung-meister/pkg/logger"
	"github.com/ofirwie/rechnung-meister/prometheus"
)

// Register creates a new user account
func Register(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse register request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return err
	}

	// Check for an existing account
	var existing model.User
	if result := database.GetDB().Where("email = ?", req.Email).First(&existing); result.Error == nil {
		log.Warn("Email already registered", zap.String("email", req.Email))
		prometheus.RecordAuthError("email_taken")
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	user := model.User{
		Email:    req.Email,
		Password: string(hash),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if result := database.GetDB().Create(&user); result.Error != nil {
		log.Error("Failed to create user", zap.Error(result.Error))
		prometheus.RecordAuthError("registration_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	log.Info("User registered", zap.String("email", user.Email), zap.Uint("id", user.ID))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "User registered successfully",
		"user":    user,
	})
}

// Login authenticates a user and issues a JWT, optionally scoped to a
// company the user has access to.
func Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		CompanyID *uint  `json:"company_id,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	result := database.GetDB().Where("email = ?", req.Email).First(&user)
	if result.Error != nil {
		log.Error("User not found", zap.String("email", req.Email))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		log.Error("Invalid password", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	// Pick the company context: requested, or the user's default
	companyID := req.CompanyID
	if companyID == nil {
		companyID = user.CompanyID
	}

	var companyName, userRole string
	if companyID != nil {
		m, err := resolver.Resolve(c.Request().Context(), user.ID, user.Email, *companyID)
		if err != nil {
			log.Warn("Login company selection denied",
				zap.String("email", req.Email),
				zap.Uint("company_id", *companyID))
			prometheus.RecordAuthError("company_access_denied")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied to the specified company"})
		}
		userRole = m.Role

		var comp model.Company
		if result := database.GetDB().Select("name").First(&comp, *companyID); result.Error == nil {
			companyName = comp.Name
		}
	}

	token, err := jwtutil.GenerateTokenWithCompany(user.Email, user.ID, companyID, companyName, userRole)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.IncreaseActiveTokens()
	log.Info("User logged in", zap.String("email", user.Email), zap.Uint("user_id", user.ID))

	resp := echo.Map{"token": token}
	if companyID != nil {
		resp["company"] = echo.Map{"id": *companyID, "name": companyName, "role": userRole}
	}
	return c.JSON(http.StatusOK, resp)
}

// SwitchCompany issues a new token scoped to a different company
func SwitchCompany(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordCompanyOperation("switch")

	userID, email, ok := identity(c)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAuthError("unauthenticated")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		CompanyID uint `json:"company_id" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse company switch request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	m, err := resolver.Resolve(c.Request().Context(), userID, email, req.CompanyID)
	if err != nil {
		if err == company.ErrNotMember {
			log.Warn("Unauthorized company switch attempt",
				zap.Uint("user_id", userID),
				zap.Uint("company_id", req.CompanyID))
			prometheus.RecordAuthError("company_access_denied")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied to requested company"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	var comp model.Company
	if result := database.GetDB().Select("id", "name").First(&comp, req.CompanyID); result.Error != nil {
		log.Error("Company not found", zap.Uint("id", req.CompanyID), zap.Error(result.Error))
		prometheus.RecordAuthError("company_not_found")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "company not found"})
	}

	companyID := req.CompanyID
	token, err := jwtutil.GenerateTokenWithCompany(email, userID, &companyID, comp.Name, m.Role)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.IncreaseActiveTokens()
	log.Info("User switched company",
		zap.String("email", email),
		zap.Uint("user_id", userID),
		zap.Uint("company_id", req.CompanyID))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"company": echo.Map{
			"id":   comp.ID,
			"name": comp.Name,
			"role": m.Role,
		},
	})
}

// GetProfile returns the authenticated user's account
func GetProfile(c echo.Context) error {
	log := logger.FromContext(c)

	userID, _, ok := identity(c)
	if !ok {
		prometheus.RecordAuthError("unauthenticated")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var user model.User
	if result := database.GetDB().First(&user, userID); result.Error != nil {
		log.Error("User not found", zap.Uint("id", userID))
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	return c.JSON(http.StatusOK, user)
}
