//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// VirtualLock is per region; memguard already locks its own pages
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
