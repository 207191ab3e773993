package reconciliation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/matheusmosca/payment-reconciliation/internal/payment"
	"github.com/matheusmosca/payment-reconciliation/internal/telemetry"
)

// GameplayLedger aplica movimentos do agregador de jogos com garantia de
// no máximo uma aplicação por (EventKey, Branch).
type GameplayLedger interface {
	FindUser(ctx context.Context, userCode string) (*payment.User, error)
	ApplyOnce(ctx context.Context, entry payment.GameplayEntry) (bool, error)
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Tipos de callback do agregador
const (
	GameplayBalance = "BALANCE"
	GameplayBet     = "Bet"
	GameplayWinBet  = "WinBet"
	GameplayLoseBet = "LoseBet"
)

const (
	BranchBet = "bet"
	BranchWin = "win"
)

// Mensagens devolvidas ao agregador
const (
	MsgSuccess           = "SUCCESS"
	MsgInvalidUser       = "INVALID_USER"
	MsgInvalidType       = "INVALID_TYPE"
	MsgInsufficientFunds = "INSUFFICIENT_USER_FUNDS"
	MsgInternalError     = "INTERNAL_ERROR"
)

// GameplayEvent é um callback de aposta/ganho do agregador
type GameplayEvent struct {
	Type      string
	UserCode  string
	BetAmount decimal.Decimal
	WinAmount decimal.Decimal
	TxnID     string
	RoundID   string
	GameCode  string
	// Raw é o corpo recebido; vira a referência do ledger quando não há txn_id nem round_id.
	Raw []byte
}

// Key devolve a chave de idempotência do evento. Sem txn_id nem round_id
// não há identidade: dois callbacks iguais são duas apostas, e a chave é vazia.
func (ev GameplayEvent) Key() string {
	if ev.TxnID != "" {
		return ev.TxnID
	}
	if ev.RoundID != "" {
		return "round:" + ev.RoundID
	}
	return ""
}

// Reference identifica o evento no ledger, com ou sem chave de idempotência
func (ev GameplayEvent) Reference() string {
	if key := ev.Key(); key != "" {
		return key
	}
	sum := sha256.Sum256(ev.Raw)
	return "payload:" + hex.EncodeToString(sum[:])
}

// GameplayResult é a resposta devolvida ao agregador, sempre com HTTP 200
type GameplayResult struct {
	Msg     string
	Balance decimal.Decimal
}

// ApplyGameplay processa um callback do agregador. Nunca devolve erro:
// falhas internas viram uma mensagem com saldo zero.
func (e *Engine) ApplyGameplay(ctx context.Context, ev GameplayEvent) GameplayResult {
	ctx, span := telemetry.StartGameplaySpan(ctx, ev.Type, ev.UserCode)
	defer span.End()

	user, err := e.gameplay.FindUser(ctx, strings.TrimSpace(ev.UserCode))
	if err != nil {
		if errors.Is(err, payment.ErrUserNotFound) {
			e.logger.Warn("⚠️ [GAMEPLAY] Usuário não encontrado", zap.String("user_code", ev.UserCode))
			return GameplayResult{Msg: MsgInvalidUser, Balance: decimal.Zero}
		}
		span.RecordError(err)
		e.logger.Error("❌ [GAMEPLAY] Falha ao buscar usuário", zap.String("user_code", ev.UserCode), zap.Error(err))
		return GameplayResult{Msg: MsgInternalError, Balance: decimal.Zero}
	}

	key := ev.Key()
	ref := ev.Reference()
	span.SetAttributes(attribute.String("gameplay.event_key", key), attribute.String("gameplay.reference", ref))
	if key == "" {
		e.logger.Debug("ℹ️ [GAMEPLAY] Callback sem txn_id/round_id, aplicado sem barreira", zap.String("reference", ref))
	}

	var legs []payment.GameplayEntry
	switch ev.Type {
	case GameplayBalance:
	case GameplayBet, GameplayLoseBet:
		legs = append(legs, e.betLeg(user, key, ref, ev.BetAmount)...)
	case GameplayWinBet:
		// débito e crédito separados, nunca compensados entre si
		legs = append(legs, e.betLeg(user, key, ref, ev.BetAmount)...)
		legs = append(legs, e.winLeg(user, key, ref, ev.WinAmount)...)
	default:
		e.logger.Warn("⚠️ [GAMEPLAY] Tipo desconhecido", zap.String("type", ev.Type))
		return e.gameplayResult(ctx, user.ID, MsgInvalidType)
	}

	for _, leg := range legs {
		applied, err := e.gameplay.ApplyOnce(ctx, leg)
		if err != nil {
			if errors.Is(err, payment.ErrInsufficientUserFunds) {
				e.logger.Info("ℹ️ [GAMEPLAY] Saldo insuficiente para aposta",
					zap.Int64("user_id", user.ID),
					zap.String("reference", ref),
					zap.String("amount", leg.Entry.Delta.Neg().String()),
				)
				return e.gameplayResult(ctx, user.ID, MsgInsufficientFunds)
			}
			span.RecordError(err)
			e.logger.Error("❌ [GAMEPLAY] Falha ao aplicar movimento",
				zap.Int64("user_id", user.ID),
				zap.String("reference", ref),
				zap.String("branch", leg.Branch),
				zap.Error(err),
			)
			return GameplayResult{Msg: MsgInternalError, Balance: decimal.Zero}
		}
		if !applied {
			e.logger.Info("ℹ️ [IDEMPOTENCY] Movimento de jogo já aplicado",
				zap.String("event_key", key),
				zap.String("branch", leg.Branch),
			)
			e.metrics.DuplicateEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "gameplay")))
		}
	}

	e.metrics.GameplayEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", ev.Type)))
	return e.gameplayResult(ctx, user.ID, MsgSuccess)
}

func (e *Engine) betLeg(user *payment.User, key, ref string, amount decimal.Decimal) []payment.GameplayEntry {
	if !amount.IsPositive() {
		return nil
	}
	return []payment.GameplayEntry{{
		EventKey:    key,
		Branch:      BranchBet,
		NoOverdraft: true,
		Entry: payment.LedgerEntry{
			UserID:    user.ID,
			Delta:     amount.Neg(),
			Reason:    payment.ReasonBet,
			Reference: ref,
		},
	}}
}

func (e *Engine) winLeg(user *payment.User, key, ref string, amount decimal.Decimal) []payment.GameplayEntry {
	if !amount.IsPositive() {
		return nil
	}
	return []payment.GameplayEntry{{
		EventKey: key,
		Branch:   BranchWin,
		Entry: payment.LedgerEntry{
			UserID:    user.ID,
			Delta:     amount,
			Reason:    payment.ReasonWin,
			Reference: ref,
		},
	}}
}

func (e *Engine) gameplayResult(ctx context.Context, userID int64, msg string) GameplayResult {
	balance, err := e.gameplay.Balance(ctx, userID)
	if err != nil {
		e.logger.Error("❌ [GAMEPLAY] Falha ao ler saldo", zap.Int64("user_id", userID), zap.Error(err))
		return GameplayResult{Msg: MsgInternalError, Balance: decimal.Zero}
	}
	return GameplayResult{Msg: msg, Balance: balance}
}
