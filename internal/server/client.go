package server

// clientScript keeps a served page live: it swaps containers and the page
// body as the server pushes them, forwards UI events to the host that owns
// the handler, and reports the browser's color scheme.
const clientScript = `(function () {
  var doc = document.body.getAttribute("data-live-document");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws?doc=" + encodeURIComponent(doc));
  var main = document.querySelector("main.live-page");

  function send(msg) {
    if (ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(msg));
  }

  function notice(text) {
    var n = document.createElement("div");
    n.className = "live-notice";
    n.textContent = text;
    document.body.appendChild(n);
    setTimeout(function () { n.remove(); }, 4000);
  }

  ws.onopen = function () {
    var dark = window.matchMedia && window.matchMedia("(prefers-color-scheme: dark)").matches;
    send({ type: "theme", theme: dark ? "dark" : "light" });
  };

  ws.onmessage = function (e) {
    var msg = JSON.parse(e.data);
    switch (msg.type) {
      case "host":
        var el = document.querySelector('[data-live-id="' + msg.host + '"]');
        if (el) el.outerHTML = msg.html;
        break;
      case "page":
        if (main) main.innerHTML = msg.html;
        break;
      case "theme":
        document.body.className = "theme-" + msg.theme;
        break;
      case "notice":
        notice(msg.message);
        break;
    }
  };

  ws.onclose = function () { notice("Live preview disconnected"); };

  ["click", "change", "input", "submit"].forEach(function (type) {
    document.addEventListener(type, function (e) {
      var attr = "data-live-on" + type;
      var target = e.target.closest ? e.target.closest("[" + attr + "]") : null;
      if (!target) return;
      var host = target.closest("[data-live-id]");
      if (!host) return;
      if (type === "submit") e.preventDefault();
      var payload = { type: type };
      if ("value" in target) payload.value = target.value;
      if ("checked" in target) payload.checked = target.checked;
      send({
        type: "event",
        host: host.getAttribute("data-live-id"),
        handler: target.getAttribute(attr),
        payload: payload
      });
    }, true);
  });
})();`
