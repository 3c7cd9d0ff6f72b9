package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Object Alert Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: sans-serif; background: #111; color: #eee; }
        .app { display: flex; flex-wrap: wrap; gap: 16px; padding: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        #stream { max-width: 100%; display: block; background: #000; }
        .indicator { display: inline-block; margin: 4px; padding: 6px 12px; border-radius: 12px; background: #333; }
        .indicator.on { background: #1a7f37; }
        .indicator.buzzer.on { background: #cc1616; }
        table { border-collapse: collapse; }
        td { padding: 2px 8px; }
        #log { font-family: monospace; font-size: 12px; max-height: 240px; overflow-y: auto; }
    </style>
</head>
<body>
<div class="app">
    <div class="panel">
        <h2>Live Feed</h2>
        <img id="stream" src="/stream" alt="Annotated camera stream">
    </div>
    <div class="panel">
        <h2>Indicators</h2>
        <div id="indicators">Waiting for data...</div>
        <h2>Presence</h2>
        <table id="counts"></table>
        <p>FPS: <span id="fps">--</span> &middot; Frames: <span id="frames">--</span></p>
        <h2>Transitions</h2>
        <div id="log"></div>
    </div>
</div>
<script>
function renderIndicators(ind) {
    const el = document.getElementById('indicators');
    el.innerHTML = '';
    const add = (name, on, cls) => {
        const span = document.createElement('span');
        span.className = 'indicator ' + (cls || '') + (on ? ' on' : '');
        span.textContent = name;
        el.appendChild(span);
    };
    Object.keys(ind.leds || {}).sort().forEach(k => add(k, ind.leds[k]));
    add('run', ind.run);
    add('buzzer', ind.buzzer, 'buzzer');
}

function renderCounts(counts) {
    const table = document.getElementById('counts');
    table.innerHTML = '';
    Object.keys(counts || {}).sort().forEach(k => {
        const row = table.insertRow();
        row.insertCell().textContent = k;
        row.insertCell().textContent = counts[k];
    });
}

function refreshStatus() {
    fetch('/api/status').then(r => r.json()).then(data => {
        document.getElementById('fps').textContent = data.monitor.current_fps.toFixed(1);
        document.getElementById('frames').textContent = data.monitor.frames_processed;
        if (data.latest) {
            renderIndicators(data.latest.indicators);
            renderCounts(data.latest.counts);
        }
    }).catch(() => {});
}

const events = new EventSource('/api/indicators/stream');
events.onmessage = (msg) => {
    const ev = JSON.parse(msg.data);
    const line = document.createElement('div');
    line.textContent = new Date(ev.timestamp * 1000).toLocaleTimeString() +
        '  ' + ev.indicator + ' -> ' + (ev.on ? 'on' : 'off');
    const log = document.getElementById('log');
    log.insertBefore(line, log.firstChild);
    refreshStatus();
};

refreshStatus();
setInterval(refreshStatus, 2000);
</script>
</body>
</html>
`
