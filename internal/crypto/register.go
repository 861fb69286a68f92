package crypto

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// RegisterOps registers the Crypto Service ops against reg. Every CRY op
// is ungated: no capability kind gates raw crypto primitives.
func RegisterOps(reg *oprt.Registry, svc *Service) map[string]oprt.CapArgFunc {
	reg.Register("crypto.random_bytes", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		n, ok := args.Int(0)
		if !ok {
			return nil, cryErr("random_bytes: expected length")
		}
		data, err := svc.RandomBytes(ctx, n)
		if err != nil {
			return nil, err
		}
		return oprt.Bytes(data), nil
	})
	reg.Register("crypto.random_uuid", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return svc.RandomUUID(ctx)
	})
	reg.Register("crypto.hash", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		data, ok := args.Bytes(0)
		if !ok {
			return nil, cryErr("hash: expected byte buffer")
		}
		sum, err := svc.Hash(ctx, data)
		if err != nil {
			return nil, err
		}
		return oprt.Bytes(sum), nil
	})
	reg.Register("crypto.encrypt", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		key, _ := args.Bytes(0)
		plaintext, _ := args.Bytes(1)
		ciphertext, err := svc.Encrypt(ctx, key, plaintext)
		if err != nil {
			return nil, err
		}
		return oprt.Bytes(ciphertext), nil
	})
	reg.Register("crypto.decrypt", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		key, _ := args.Bytes(0)
		ciphertext, _ := args.Bytes(1)
		plaintext, err := svc.Decrypt(ctx, key, ciphertext)
		if err != nil {
			return nil, err
		}
		return oprt.Bytes(plaintext), nil
	})
	reg.Register("crypto.derive_key", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		password, _ := args.Bytes(0)
		salt, _ := args.Bytes(1)
		key, err := svc.DeriveKey(ctx, password, salt)
		if err != nil {
			return nil, err
		}
		return oprt.Bytes(key), nil
	})

	return nil
}
