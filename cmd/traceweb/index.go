package main

import (
	"fmt"
	"net/http"
)

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Trace Calls</title>
    <style>
        * { box-sizing: border-box; }
        body {
            font-family: 'Monaco', 'Menlo', 'Ubuntu Mono', monospace;
            padding: 20px;
            background: #1e1e1e;
            color: #d4d4d4;
        }
        .header {
            display: flex;
            gap: 10px;
            align-items: center;
            margin-bottom: 20px;
            flex-wrap: wrap;
        }
        select, input, button {
            padding: 8px 12px;
            font-size: 14px;
            background: #3c3c3c;
            color: #d4d4d4;
            border: 1px solid #555;
            border-radius: 4px;
        }
        button { cursor: pointer; background: #0e639c; border-color: #0e639c; }
        button:hover { background: #1177bb; }
        .info { color: #888; font-size: 12px; }
        table { border-collapse: collapse; margin-bottom: 30px; }
        th, td { padding: 4px 12px; border-bottom: 1px solid #333; text-align: left; }
        td.num { text-align: right; }
        .call { cursor: pointer; padding: 2px 0; white-space: nowrap; }
        .call:hover { background: #2a2d2e; }
        .method { color: #dcdcaa; }
        .time { color: #b5cea8; }
        .open { color: #f48771; }
        .children { margin-left: 20px; border-left: 1px solid #333; padding-left: 8px; }
    </style>
</head>
<body>
    <div class="header">
        <select id="metric">
            <option value="call_count">call_count</option>
            <option value="total_time">total_time</option>
            <option value="total_own_time">total_own_time</option>
        </select>
        <input id="limit" type="number" value="20" min="1">
        <button onclick="loadSummary()">Summary</button>
        <span class="info" id="info"></span>
    </div>
    <table id="summary"></table>
    <div id="tree"></div>

    <script>
        const fmt = v => v === undefined || v === null ? '?' : v;

        async function getJSON(url) {
            const resp = await fetch(url);
            if (!resp.ok) throw new Error(await resp.text());
            return resp.json();
        }

        async function loadInfo() {
            const info = await getJSON('/api/info');
            document.getElementById('info').textContent =
                info.log_path + ' | ' + info.backend + ' | ' + info.calls + ' calls | stack ' + info.stack_mode;
        }

        async function loadSummary() {
            const metric = document.getElementById('metric').value;
            const limit = document.getElementById('limit').value;
            const table = document.getElementById('summary');
            try {
                const rows = await getJSON('/api/summary?metric=' + metric + '&limit=' + limit);
                table.innerHTML = '<tr><th>method</th><th>total_time</th><th>total_own_time</th><th>call_count</th></tr>';
                for (const r of rows) {
                    const tr = document.createElement('tr');
                    [r.method, fmt(r.total_time), fmt(r.total_own_time), r.call_count].forEach((v, i) => {
                        const td = document.createElement('td');
                        if (i > 0) td.className = 'num';
                        td.textContent = v;
                        tr.appendChild(td);
                    });
                    table.appendChild(tr);
                }
            } catch (e) {
                table.innerHTML = '<tr><td class="open"></td></tr>';
                table.querySelector('td').textContent = e.message;
            }
        }

        function callNode(c) {
            const node = document.createElement('div');
            const line = document.createElement('div');
            line.className = 'call';
            const outcome = c.outcome === undefined
                ? '<span class="open">[open]</span>'
                : '&rarr; ' + escape(c.outcome);
            line.innerHTML = '#' + c.id + ' <span class="method">' + escape(c.method) + '</span>(' +
                escape(c.input) + ') ' + outcome +
                ' <span class="time">time=' + fmt(c.time) + ' own=' + fmt(c.own_time) + '</span>';
            const children = document.createElement('div');
            children.className = 'children';
            let loaded = false;
            line.onclick = async () => {
                if (loaded) {
                    children.style.display = children.style.display === 'none' ? '' : 'none';
                    return;
                }
                loaded = true;
                for (const child of await getJSON('/api/calls?parent=' + c.id)) {
                    children.appendChild(callNode(child));
                }
            };
            node.appendChild(line);
            node.appendChild(children);
            return node;
        }

        function escape(s) {
            const d = document.createElement('div');
            d.textContent = s;
            return d.innerHTML;
        }

        async function loadRoots() {
            const tree = document.getElementById('tree');
            for (const c of await getJSON('/api/calls')) {
                tree.appendChild(callNode(c));
            }
        }

        loadInfo();
        loadSummary();
        loadRoots();
    </script>
</body>
</html>`)
}
