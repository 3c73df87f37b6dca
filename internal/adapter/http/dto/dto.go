package dto

import (
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"
)

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email,max=254"`
	Password    string `json:"password" binding:"required,min=8,max=128" sanitize:"-"`
	DisplayName string `json:"display_name" binding:"omitempty,max=50" sanitize:"-"`
	AvatarURL   string `json:"avatar_url" binding:"omitempty,max=2048,safe_url" sanitize:"-"`
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=128" sanitize:"-"`
}

// AuthResponse carries an issued bearer token.
type AuthResponse struct {
	UserID    string `json:"user_id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // Unix timestamp
}

// PurchaseRequest is the request body for buying a catalog item.
type PurchaseRequest struct {
	ItemID string `json:"item_id" binding:"required,max=64,safe_id"`
}

// AddFundsRequest is the request body for a card top-up. Amount is a decimal string.
type AddFundsRequest struct {
	Amount string `json:"amount" binding:"required,decimal_amount"`
	Nonce  string `json:"nonce" binding:"required,max=512" sanitize:"-"`
}

// UpdateProfileRequest is the request body for profile edits.
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required,max=50" sanitize:"-"`
	AvatarURL   string `json:"avatar_url" binding:"omitempty,max=2048,safe_url" sanitize:"-"`
}

// NotificationResponse is the toast shown for an operation outcome.
type NotificationResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ItemResponse is one catalog entry.
type ItemResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// TransactionResponse is one wallet history entry.
type TransactionResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    string  `json:"amount"`
	ItemName  *string `json:"itemName,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// WalletResponse is the wallet view: balance, profile and history (newest first).
type WalletResponse struct {
	Balance      string                `json:"balance"`
	DisplayName  string                `json:"displayName"`
	AvatarURL    string                `json:"avatarUrl"`
	Version      int64                 `json:"version"`
	Transactions []TransactionResponse `json:"transactions"`
}

// OperationResponse is the result of a committed wallet operation.
type OperationResponse struct {
	Notification NotificationResponse `json:"notification"`
	Wallet       WalletResponse       `json:"wallet"`
	Transaction  *TransactionResponse `json:"transaction,omitempty"`
	Duplicate    bool                 `json:"duplicate,omitempty"`
}

// ClientTokenResponse lets the client tokenize a card with the processor.
type ClientTokenResponse struct {
	Token         string `json:"token"`
	ApplicationID string `json:"application_id"`
	LocationID    string `json:"location_id"`
	Environment   string `json:"environment"`
	ExpiresAt     int64  `json:"expires_at"`
}

func FromNotification(n domain.Notification) NotificationResponse {
	return NotificationResponse{Title: n.Title, Description: n.Description, Severity: string(n.Severity)}
}

func FromNotifications(ns []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, len(ns))
	for i, n := range ns {
		out[i] = FromNotification(n)
	}
	return out
}

func FromItems(items []domain.Item) []ItemResponse {
	out := make([]ItemResponse, len(items))
	for i, it := range items {
		out[i] = ItemResponse{
			ID:          it.ID,
			Name:        it.Name,
			Price:       it.Price.StringFixed(domain.MoneyScale),
			Description: it.Description,
			Image:       it.ImageRef,
		}
	}
	return out
}

func FromTransaction(t domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:        t.ID,
		Type:      string(t.Kind),
		Amount:    t.Amount.StringFixed(domain.MoneyScale),
		ItemName:  t.ItemName,
		Timestamp: t.Timestamp.Format(time.RFC3339),
	}
}

func FromTransactions(txns []domain.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, len(txns))
	for i, t := range txns {
		out[i] = FromTransaction(t)
	}
	return out
}

func FromWallet(s domain.WalletState) WalletResponse {
	return WalletResponse{
		Balance:      s.Balance.StringFixed(domain.MoneyScale),
		DisplayName:  s.DisplayName,
		AvatarURL:    s.AvatarURL,
		Version:      s.Version,
		Transactions: FromTransactions(s.Transactions),
	}
}

func FromOutcome(o *ports.LedgerOutcome) OperationResponse {
	resp := OperationResponse{
		Notification: FromNotification(o.Notification),
		Wallet:       FromWallet(o.State),
		Duplicate:    o.Duplicate,
	}
	if o.Transaction != nil {
		t := FromTransaction(*o.Transaction)
		resp.Transaction = &t
	}
	return resp
}

func FromClientAuthorization(a *ports.ClientAuthorization) ClientTokenResponse {
	return ClientTokenResponse{
		Token:         a.Token,
		ApplicationID: a.ApplicationID,
		LocationID:    a.LocationID,
		Environment:   a.Environment,
		ExpiresAt:     a.ExpiresAt.Unix(),
	}
}
