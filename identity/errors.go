package identity

import "github.com/ceyewan/fabric/xerrors"

var (
	ErrInvalidToken     = xerrors.New("identity: invalid token")
	ErrExpiredToken     = xerrors.New("identity: token expired")
	ErrMissingToken     = xerrors.New("identity: missing token")
	ErrInvalidSignature = xerrors.New("identity: invalid signature")
	ErrInvalidConfig    = xerrors.New("identity: invalid config")
)
