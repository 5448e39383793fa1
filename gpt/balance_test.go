package gpt

import (
	"context"
	"testing"

	"aichat/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredAmount(t *testing.T) {
	model := &models.GptModel{IncomingPrice: 200, OutgoingPrice: 100}
	// 200/100000*1000 + 100*0.03 = 2 + 3 = 5
	assert.InDelta(t, 5.0, RequiredAmount(model, 1000), 1e-9)

	free := &models.GptModel{IncomingPrice: 0, OutgoingPrice: 0}
	assert.Zero(t, RequiredAmount(free, 1000))
}

func TestBalanceChecker_FreeModelSkipsCheck(t *testing.T) {
	e, mock := newMockEngine(t)
	checker := NewBalanceChecker(e.db)

	// 免费模型不读库，匿名也放行
	model := &models.GptModel{IsFree: true, IncomingPrice: 200}
	require.NoError(t, checker.Check(context.Background(), nil, model, 1000))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceChecker_AnonymousPaidRejected(t *testing.T) {
	e, _ := newMockEngine(t)
	checker := NewBalanceChecker(e.db)

	model := &models.GptModel{IsFree: false, IncomingPrice: 200}
	err := checker.Check(context.Background(), nil, model, 1000)
	require.Error(t, err)
	assert.Equal(t, KindLowTokensBalance, KindOf(err))
}

func TestBalanceChecker_ReadsFreshBalance(t *testing.T) {
	e, mock := newMockEngine(t)
	checker := NewBalanceChecker(e.db)

	model := &models.GptModel{IsFree: false, IncomingPrice: 200, OutgoingPrice: 100}
	// 请求携带的余额快照显示充足，但库里的最新余额不足
	user := &models.User{ID: 7, TokenBalance: 100}

	mock.ExpectQuery("SELECT .* FROM `users`").
		WillReturnRows(sqlmock.NewRows([]string{"token_balance"}).AddRow(1.0))

	err := checker.Check(context.Background(), user, model, 1000)
	require.Error(t, err)
	assert.Equal(t, KindLowTokensBalance, KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceChecker_SufficientBalance(t *testing.T) {
	e, mock := newMockEngine(t)
	checker := NewBalanceChecker(e.db)

	model := &models.GptModel{IsFree: false, IncomingPrice: 200, OutgoingPrice: 100}
	user := &models.User{ID: 7}

	mock.ExpectQuery("SELECT .* FROM `users`").
		WillReturnRows(sqlmock.NewRows([]string{"token_balance"}).AddRow(50.0))

	require.NoError(t, checker.Check(context.Background(), user, model, 1000))
	require.NoError(t, mock.ExpectationsWereMet())
}
