package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Ошибки валидации initData из Telegram Mini App
var (
	ErrInvalidInitData = errors.New("некорректные данные инициализации")
	ErrExpiredInitData = errors.New("данные инициализации устарели")
)

// максимальный возраст auth_date в initData
const maxInitDataAge = 24 * time.Hour

// WebAppUser содержит данные пользователя из initData Mini App
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Authenticator проверяет подпись initData от Telegram Mini App
type Authenticator struct {
	secretKey []byte
}

// NewAuthenticator создает валидатор initData для бота с указанным токеном.
// Секретный ключ вычисляется как HMAC-SHA256("WebAppData", botToken).
func NewAuthenticator(botToken string) *Authenticator {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &Authenticator{
		secretKey: mac.Sum(nil),
	}
}

// Validate проверяет подпись и срок действия initData и возвращает пользователя
func (a *Authenticator) Validate(initData string) (*WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора initData: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrInvalidInitData
	}
	values.Del("hash")

	// строка проверки: отсортированные пары key=value через перевод строки
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	checkString := strings.Join(pairs, "\n")

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(hash))) {
		return nil, ErrInvalidInitData
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, ErrInvalidInitData
	}
	if time.Since(time.Unix(authDate, 0)) > maxInitDataAge {
		return nil, ErrExpiredInitData
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, ErrInvalidInitData
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("ошибка разбора данных пользователя: %w", err)
	}
	if user.ID == 0 {
		return nil, ErrInvalidInitData
	}

	return &user, nil
}
