package types

import "time"

// TransactionLog представляет запись в таблице transactions (журнал ошибок верификации)
type TransactionLog struct {
	ID        string    `json:"id" db:"id"`
	TxHash    string    `json:"tx_hash" db:"tx_hash"`
	Result    string    `json:"result" db:"result"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
