package session

// stealthScript is evaluated on every new document before any page script
// runs. Challenge pages read these fingerprints at load, so registering the
// script after the first navigation is observably too late.
const stealthScript = `
(() => {
    // Mask the automation flag.
    Object.defineProperty(navigator, 'webdriver', {
        get: () => undefined,
        configurable: true,
    });

    // A headless profile exposes zero plugins; fake a plausible list.
    Object.defineProperty(navigator, 'plugins', {
        get: () => {
            const plugins = [
                { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
                { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
                { name: 'Native Client', filename: 'internal-nacl-plugin' },
            ];
            plugins.item = (i) => plugins[i] || null;
            plugins.namedItem = (n) => plugins.find((p) => p.name === n) || null;
            return plugins;
        },
    });

    Object.defineProperty(navigator, 'languages', {
        get: () => ['en-US', 'en'],
    });

    // Minimal chrome runtime stub; its absence is a headless tell.
    if (!window.chrome) {
        window.chrome = { runtime: {} };
    }

    // Remove ChromeDriver sentinel properties.
    for (const key of Object.keys(window)) {
        if (key.startsWith('cdc_') || key.startsWith('$cdc_')) {
            try { delete window[key]; } catch (e) {}
        }
    }
    try { delete document.$cdc_asdjflasutopfhvcZLmcfl_; } catch (e) {}
})();
`
