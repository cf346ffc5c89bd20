package model

import "github.com/m-mizutani/goerr/v2"

var (
	ErrGroupNotFound  = goerr.New("group not found")
	ErrEmptyEmbedding = goerr.New("embedding is empty")
	ErrEmptyResponse  = goerr.New("empty response from model")
	ErrNotDelivered   = goerr.New("message was not delivered")
)
