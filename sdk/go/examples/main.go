package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"pochipo/sdk/go/pochipo"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(pochipo.User{ID: "user-demo", Username: "demo"})
	})
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "demo-token"})
	})
	mux.HandleFunc("/api/user-chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pochipo.ChatReply{
			Response: "I created a wallet for you! Address: 0xdemo",
		})
	})
	mux.HandleFunc("/api/interact", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pochipo.ChatReply{
			Response: "Woof! That cat video is hilarious, minting DOGECAT now.",
			ThreadID: "thread-demo",
		})
	})
	mux.HandleFunc("/api/tokens", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]pochipo.Token{{
			ID:              "token-demo",
			Name:            "Dogecat",
			Symbol:          "DOGECAT",
			ContractAddress: "0x00000000000000000000000000000000000000cc",
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := pochipo.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := client.Register(ctx, pochipo.Credentials{Username: "demo", Password: "hunter2"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered user %s\n", user.ID)

	if _, err := client.Login(ctx, pochipo.Credentials{Username: "demo", Password: "hunter2"}); err != nil {
		panic(err)
	}
	fmt.Println("logged in")

	reply, err := client.UserChat(ctx, "create a wallet for me")
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent: %s\n", reply.Response)

	chat, err := client.Interact(ctx, "", "look at this cat meme")
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent on thread %s: %s\n", chat.ThreadID, chat.Response)

	tokens, err := client.Tokens(ctx)
	if err != nil {
		panic(err)
	}
	for _, token := range tokens {
		fmt.Printf("token %s (%s) at %s\n", token.Name, token.Symbol, token.ContractAddress)
	}
}
