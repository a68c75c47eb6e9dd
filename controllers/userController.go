package controllers

import (
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"futameet/directory"
)

// Extracts the matric number from the JWT cookie and checks if the user is
// authenticated
func GetUserIDFromToken(c *gin.Context) (string, error) {
	cookieValue, err := c.Cookie("JWT")
	if err != nil {
		return "", err
	}

	token, err := jwt.Parse(cookieValue, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("secret")), nil
	})
	if err != nil || !token.Valid {
		return "", err
	}

	claims := token.Claims.(jwt.MapClaims)
	matricNo, ok := claims["iss"].(string)
	if !ok {
		return "", err
	}

	// Extend the cookie's expiration time
	maxAge := 30 * 60 // 30 minutes
	c.SetCookie("JWT", cookieValue, maxAge, "/", "", false, true)

	return matricNo, nil
}

type UserController struct {
	Directory *directory.Store
}

var loginInput struct {
	MatricNo string `json:"matricNo" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// User login function
func (u *UserController) Login(c *gin.Context) {
	if err := c.ShouldBindJSON(&loginInput); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request"})
		return
	}

	user, ok := u.Directory.Authenticate(loginInput.MatricNo, loginInput.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid Matric No. or Password!"})
		return
	}

	secret := viper.GetString("secret")
	if secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Secret key is missing"})
		return
	}

	claims := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Issuer:    user.MatricNo,
		ExpiresAt: time.Now().Add(time.Minute * 30).Unix(),
	})

	token, err := claims.SignedString([]byte(secret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create token"})
		return
	}

	// Set cookie to expire in 30 minutes
	c.SetCookie("JWT", token, 30*60, "/", "", false, true)

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Log out user
func (u *UserController) LogOut(c *gin.Context) {
	c.SetCookie("JWT", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// List all users in the directory
func (u *UserController) UsersIndex(c *gin.Context) {
	users, err := u.Directory.Users()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetUserByMatric fetches a user by matric number
func (u *UserController) GetUserByMatric(c *gin.Context) {
	matricNo := c.Param("matric")

	user, ok := u.Directory.Resolve(matricNo)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
