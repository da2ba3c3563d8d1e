package admin

import (
	"context"
	"strconv"
	"testing"
	"time"

	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdminStore struct {
	totalUsers    int
	referredUsers int
	todaySales    float64
	recent        []*store.TransactionWithUser
	settings      map[string]string
	tasks         map[string]*models.Task
	nextTaskID    int
}

func (f *fakeAdminStore) CountUsers(ctx context.Context) (int, error)    { return f.totalUsers, nil }
func (f *fakeAdminStore) CountReferred(ctx context.Context) (int, error) { return f.referredUsers, nil }

func (f *fakeAdminStore) SumCompletedRubSince(ctx context.Context, since time.Time) (float64, error) {
	return f.todaySales, nil
}

func (f *fakeAdminStore) GetRecent(ctx context.Context, limit int) ([]*store.TransactionWithUser, error) {
	return f.recent, nil
}

func (f *fakeAdminStore) Upsert(ctx context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

func (f *fakeAdminStore) List(ctx context.Context) ([]*models.Setting, error) {
	var out []*models.Setting
	for k, v := range f.settings {
		out = append(out, &models.Setting{Key: k, Value: v})
	}
	return out, nil
}

type fakeTaskRepo struct{ *fakeAdminStore }

func (f fakeTaskRepo) Create(ctx context.Context, task *models.Task) error {
	f.nextTaskID++
	task.ID = "task-" + strconv.Itoa(f.nextTaskID)
	f.tasks[task.ID] = task
	return nil
}

func (f fakeTaskRepo) GetByID(ctx context.Context, id string) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *t
	return &copied, nil
}

func (f fakeTaskRepo) Update(ctx context.Context, task *models.Task) error {
	if _, ok := f.tasks[task.ID]; !ok {
		return store.ErrTaskNotFound
	}
	f.tasks[task.ID] = task
	return nil
}

func (f fakeTaskRepo) List(ctx context.Context) ([]*models.Task, error) {
	var out []*models.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func TestStats(t *testing.T) {
	f := &fakeAdminStore{
		totalUsers:    120,
		referredUsers: 30,
		todaySales:    4830.50,
		recent: []*store.TransactionWithUser{
			{Transaction: models.Transaction{ID: "t1", Type: models.TransactionTypeBuyStars}, Username: "ivan"},
		},
		settings: map[string]string{},
		tasks:    map[string]*models.Task{},
	}
	svc := NewService(f, f, f, fakeTaskRepo{f}, zap.NewNop())

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 120, stats.TotalUsers)
	assert.Equal(t, 30, stats.ReferredUsers)
	assert.Equal(t, 4830.50, stats.TodaySalesRub)
	require.Len(t, stats.RecentTransactions, 1)
	assert.Equal(t, "ivan", stats.RecentTransactions[0].Username)
}

func newTestService(f *fakeAdminStore) *Service {
	if f.settings == nil {
		f.settings = map[string]string{}
	}
	if f.tasks == nil {
		f.tasks = map[string]*models.Task{}
	}
	return NewService(f, f, f, fakeTaskRepo{f}, zap.NewNop())
}

func TestUpdateSettings(t *testing.T) {
	f := &fakeAdminStore{}
	svc := newTestService(f)

	err := svc.UpdateSettings(context.Background(), map[string]string{
		models.SettingStarsPrice:       "2.50",
		models.SettingMarkupPercentage: "7",
	})
	require.NoError(t, err)
	assert.Equal(t, "2.50", f.settings[models.SettingStarsPrice])
	assert.Equal(t, "7", f.settings[models.SettingMarkupPercentage])
}

func TestUpdateSettingsValidation(t *testing.T) {
	f := &fakeAdminStore{}
	svc := newTestService(f)

	// Неизвестный ключ
	err := svc.UpdateSettings(context.Background(), map[string]string{"secret_key": "1"})
	assert.ErrorIs(t, err, ErrUnknownSettingKey)

	// Нечисловое значение
	err = svc.UpdateSettings(context.Background(), map[string]string{
		models.SettingStarsPrice: "abc",
	})
	assert.ErrorIs(t, err, ErrInvalidSettingValue)

	// Отрицательное значение
	err = svc.UpdateSettings(context.Background(), map[string]string{
		models.SettingTonPrice: "-1",
	})
	assert.ErrorIs(t, err, ErrInvalidSettingValue)

	// Ничего не записано при ошибке валидации
	assert.Empty(t, f.settings)
}

func TestCreateTask(t *testing.T) {
	f := &fakeAdminStore{}
	svc := newTestService(f)

	created, err := svc.CreateTask(context.Background(), &models.CreateTaskRequest{
		Title:  "Подписаться на канал",
		Reward: 25,
		Type:   models.TaskTypeSocial,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.TaskStatusActive, created.Status)
	assert.True(t, created.IsActive)

	tasks, err := svc.Tasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestCreateTaskValidation(t *testing.T) {
	f := &fakeAdminStore{}
	svc := newTestService(f)

	// Пустой заголовок
	_, err := svc.CreateTask(context.Background(), &models.CreateTaskRequest{
		Reward: 10, Type: models.TaskTypeSocial,
	})
	assert.ErrorIs(t, err, ErrInvalidTask)

	// Нулевая награда
	_, err = svc.CreateTask(context.Background(), &models.CreateTaskRequest{
		Title: "Задание", Type: models.TaskTypeSocial,
	})
	assert.ErrorIs(t, err, ErrInvalidTask)

	// Неизвестный тип
	_, err = svc.CreateTask(context.Background(), &models.CreateTaskRequest{
		Title: "Задание", Reward: 10, Type: "lottery",
	})
	assert.ErrorIs(t, err, ErrInvalidTask)

	assert.Empty(t, f.tasks)
}

func TestUpdateTask(t *testing.T) {
	f := &fakeAdminStore{}
	svc := newTestService(f)

	created, err := svc.CreateTask(context.Background(), &models.CreateTaskRequest{
		Title: "Подписаться на канал", Reward: 25, Type: models.TaskTypeSocial,
	})
	require.NoError(t, err)

	newReward := 50
	inactive := false
	updated, err := svc.UpdateTask(context.Background(), created.ID, &models.UpdateTaskRequest{
		Reward:   &newReward,
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Reward)
	assert.False(t, updated.IsActive)
	// Непереданные поля не меняются
	assert.Equal(t, "Подписаться на канал", updated.Title)
	assert.Equal(t, models.TaskStatusActive, updated.Status)
}

func TestUpdateTaskValidation(t *testing.T) {
	f := &fakeAdminStore{}
	svc := newTestService(f)

	created, err := svc.CreateTask(context.Background(), &models.CreateTaskRequest{
		Title: "Задание", Reward: 10, Type: models.TaskTypeSocial,
	})
	require.NoError(t, err)

	badReward := -5
	_, err = svc.UpdateTask(context.Background(), created.ID, &models.UpdateTaskRequest{Reward: &badReward})
	assert.ErrorIs(t, err, ErrInvalidTask)

	badStatus := "archived"
	_, err = svc.UpdateTask(context.Background(), created.ID, &models.UpdateTaskRequest{Status: &badStatus})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = svc.UpdateTask(context.Background(), "missing", &models.UpdateTaskRequest{})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	// Ошибки валидации не затронули сохраненное задание
	assert.Equal(t, 10, f.tasks[created.ID].Reward)
}
