package redis

import (
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
)

func TestNew_NilClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("err=%v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	p, err := New(Config{Client: rdb, KeyPrefix: "app:prod:"})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.key("swr:default:todo:1"); got != "app:prod:swr:default:todo:1" {
		t.Fatalf("key=%q", got)
	}
}
