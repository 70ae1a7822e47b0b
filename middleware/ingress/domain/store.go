package domain

import (
	"context"
	"time"
)

// Store é a abstração do key-value compartilhado (Redis em produção).
//
// Toda coordenação entre chamadores concorrentes passa pelas primitivas atômicas
// abaixo; nenhum chamador deve fazer read-modify-write em duas idas ao store.
//
// Erros de infraestrutura devem ser retornados embrulhados em *StoreError com
// ErrStoreUnavailable, para que a camada de aplicação saiba quando fazer fail-open.
type Store interface {
	// IncrementWindow incrementa atomicamente key. Se o incremento criou a chave,
	// aplica ttl no mesmo passo. Incrementos seguintes nunca estendem o TTL.
	IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetIfNotExists grava value com ttl somente se key não existir.
	// Retorna true para exatamente um chamador enquanto a chave existir.
	SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// SetWithTTL grava (ou sobrescreve) key com ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// AppendToList adiciona value ao fim da lista e renova o ttl da lista.
	AppendToList(ctx context.Context, key, value string, ttl time.Duration) error

	// ReadAndDeleteList lê a lista inteira e apaga a lista e as chaves extra
	// numa única operação atômica.
	ReadAndDeleteList(ctx context.Context, key string, alsoDelete ...string) ([]string, error)

	Exists(ctx context.Context, key string) (bool, error)

	// TTL retorna o tempo restante de key, ou 0 se ela não existir ou não expirar.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// GetInt lê um contador. Chave ausente vale 0.
	GetInt(ctx context.Context, key string) (int64, error)

	// Delete apaga as chaves e retorna quantas existiam.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Keys lista as chaves que casam com pattern (glob estilo Redis).
	// Uso administrativo apenas: nunca no caminho quente.
	Keys(ctx context.Context, pattern string) ([]string, error)
}
