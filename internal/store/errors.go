package store

import "errors"

// Ошибки уровня хранилища. Сервисы проверяют их через errors.Is
// и транслируют в ответы API.
var (
	ErrUserNotFound         = errors.New("пользователь не найден")
	ErrUserAlreadyExists    = errors.New("пользователь уже существует")
	ErrTransactionNotFound  = errors.New("транзакция не найдена")
	ErrTransactionSettled   = errors.New("транзакция уже в конечном статусе")
	ErrTaskNotFound         = errors.New("задание не найдено")
	ErrTaskAlreadyCompleted = errors.New("задание уже выполнено")
	ErrSettingNotFound      = errors.New("настройка не найдена")
)
