package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/status"
)

// CloseSession closes the session on the server but keeps the credentials,
// then checks the connection again after RecheckDelay.
func (b *Bootstrapper) CloseSession(ctx context.Context) error {
	b.Stop()
	if err := b.remote.CloseSession(ctx); err != nil {
		b.logger.Error("failed to close session", zap.Error(err))
		b.notify.Error("Could not close session")
		return fmt.Errorf("close session: %w", err)
	}
	b.reset(false)
	b.notify.Success("Session closed")
	b.launch(b.opts.RecheckDelay, b.Run)
	return nil
}

// Logout unlinks the phone and forgets the credentials. Nothing restarts
// until Login is called.
func (b *Bootstrapper) Logout(ctx context.Context) error {
	b.Stop()
	if err := b.remote.Logout(ctx, false); err != nil {
		b.logger.Error("failed to log out", zap.Error(err))
		b.notify.Error("Could not log out")
		return fmt.Errorf("logout: %w", err)
	}
	b.forget()
	b.notify.Success("Logged out")
	return nil
}

// ForceLogout tries a normal logout and forgets the credentials whatever the
// server answers.
func (b *Bootstrapper) ForceLogout(ctx context.Context) error {
	b.Stop()
	if err := b.remote.Logout(ctx, false); err != nil {
		b.logger.Warn("server logout failed, clearing local data anyway", zap.Error(err))
		_ = b.remote.Logout(ctx, true)
		b.forget()
		b.notify.Warn("Forced logout: local data cleared")
		return nil
	}
	b.forget()
	b.notify.Warn("Forced logout")
	return nil
}

// DisconnectAndShowQR unlinks the phone but keeps the credentials, then
// starts a new QR login after RestartDelay.
func (b *Bootstrapper) DisconnectAndShowQR(ctx context.Context) error {
	b.Stop()
	if err := b.remote.DisconnectKeepingCredentials(ctx); err != nil {
		b.logger.Error("failed to disconnect", zap.Error(err))
		b.notify.Error("Could not disconnect. Try again.")
		return fmt.Errorf("disconnect: %w", err)
	}
	b.reset(false)
	b.notify.Info("Disconnected. Scan the QR code again to reconnect")

	session := b.remote.Binding().Session
	if session == "" {
		session = b.opts.Session
	}
	b.launch(b.opts.RestartDelay, func(ctx context.Context) error {
		b.machine.Reset()
		return b.fresh(ctx, session)
	})
	return nil
}

func (b *Bootstrapper) forget() {
	if err := b.creds.ClearCredentials(); err != nil {
		b.logger.Error("failed to clear credentials", zap.Error(err))
	}
	b.reset(true)
}

// reset returns to NoCredential and tells data holders to drop what they
// learned from the session.
func (b *Bootstrapper) reset(clearCache bool) {
	session := b.remote.Binding().Session
	if session == "" {
		session = b.opts.Session
	}
	b.machine.Reset()
	b.clearQR()
	b.bus.Emit(bus.KindSessionReset, status.SessionReset{Session: session, ClearCache: clearCache})
}
