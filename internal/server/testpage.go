package server

import (
	"fmt"
	"net/http"
)

// handleTestPage serves an HTML page for exercising the realtime endpoint
// by hand: log in, join a room by slug and chat.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		httpLogger.Debugf("error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Roomchat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Roomchat Test</h1>

    <div>
        <input type="text" id="email" placeholder="email">
        <input type="password" id="password" placeholder="password">
        <button onclick="login()">Log in</button>
    </div>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="slug" placeholder="room slug">
        <button onclick="joinRoom()">Join</button>
    </div>
    <div>
        <input type="text" id="text" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="log"></div>

    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');

        function show(line, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = line;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function setStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
        }

        async function login() {
            const res = await fetch('/auth/login', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({
                    email: document.getElementById('email').value,
                    password: document.getElementById('password').value,
                }),
            });
            const body = await res.json();
            if (!res.ok) {
                show('login failed: ' + JSON.stringify(body.message), 'red');
                return;
            }
            connect(body.access_token);
        }

        function connect(token) {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/chat?token=' + encodeURIComponent(token));
            ws.onopen = () => { setStatus(true); show('connected'); };
            ws.onclose = () => { setStatus(false); show('connection closed'); ws = null; };
            ws.onmessage = (event) => {
                const frame = JSON.parse(event.data);
                const d = frame.data || {};
                switch (frame.event) {
                case 'room:join':
                    show('joined ' + d.room.name + ' (' + d.messages.length + ' messages)');
                    d.messages.forEach(m => show(m.userName + ': ' + m.text, 'black'));
                    break;
                case 'message:new':
                    show(d.userName + ': ' + d.text, 'green');
                    break;
                case 'user:joined':
                    show(d.userName + ' joined');
                    break;
                case 'user:left':
                    show(d.userName + ' left');
                    break;
                case 'error':
                    show('error: ' + d.message, 'red');
                    break;
                }
            };
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function joinRoom() {
            emit('room:join', {roomSlug: document.getElementById('slug').value.trim()});
        }

        function sendMessage() {
            const input = document.getElementById('text');
            const text = input.value.trim();
            if (text) {
                emit('message:send', {text: text});
                input.value = '';
            }
        }

        document.getElementById('text').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
